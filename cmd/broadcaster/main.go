package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/bzinkan/ClassPilot-sub005/internal/client/broadcast"
	"github.com/bzinkan/ClassPilot-sub005/internal/client/channel"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	rlog "github.com/bzinkan/ClassPilot-sub005/pkg/logger"

	"github.com/pion/webrtc/v3"
)

// Broadcasts a screen capture fed as RTP over UDP (for example from
// ffmpeg or gstreamer) to every admitted viewer.
func main() {
	relayURL := flag.String("relay", "ws://localhost:8081/ws", "relay websocket URL")
	token := flag.String("token", "", "signaling token")
	userID := flag.String("user", "", "broadcaster user id")
	deviceID := flag.String("device", "", "broadcaster device id")
	schoolID := flag.String("school", "", "school id")
	rtpAddr := flag.String("rtp", "127.0.0.1:5004", "UDP address to receive capture RTP on")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *token == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "-token and -user are required")
		os.Exit(1)
	}

	zl := rlog.New(*logLevel)
	defer zl.Sync()
	logger := zl.Sugar()

	identity := domain.Identity{
		Role:     domain.RoleBroadcaster,
		UserID:   domain.UserID(*userID),
		DeviceID: domain.DeviceID(*deviceID),
		SchoolID: domain.SchoolID(*schoolID),
	}

	track, err := broadcast.NewScreenTrack(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8,
	}, "screen", "capture")
	if err != nil {
		logger.Fatalw("failed to create screen track", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var orch *broadcast.Orchestrator
	ch := channel.New(channel.Options{
		URL:      *relayURL,
		Token:    func() (string, error) { return *token, nil },
		Identity: identity,
		OnEnvelope: func(env domain.Envelope) {
			orch.HandleEnvelope(env)
		},
		OnStateChange: func(connected bool) {
			logger.Infow("relay connectivity changed", "connected", connected)
		},
		Logger: logger,
	})
	defer ch.Close()

	orch = broadcast.NewOrchestrator(identity, ch, broadcast.WebRTCConfig{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}, logger,
		broadcast.WithViewerCountHandler(func(count int) {
			logger.Infow("viewer count changed", "count", count)
		}),
	)

	if err := ch.Connect(); err != nil {
		logger.Warnw("initial connect failed, reconnecting in background", "error", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", *rtpAddr)
	if err != nil {
		logger.Fatalw("invalid rtp address", "address", *rtpAddr, "error", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Fatalw("failed to listen for capture RTP", "address", *rtpAddr, "error", err)
	}
	defer conn.Close()

	if err := orch.Start(track); err != nil {
		logger.Fatalw("failed to start broadcast", "error", err)
	}
	defer orch.Stop()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.Infow("broadcasting", "rtp_source", *rtpAddr, "relay", *relayURL)
	if err := broadcast.PumpRTP(ctx, conn, track, logger); err != nil && ctx.Err() == nil {
		logger.Errorw("capture pump stopped", "error", err)
	}
}
