package broadcast

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NewScreenTrack builds the local track a screen capture pipeline
// writes into. Every peer session shares this single track.
func NewScreenTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
}

// PumpRTP reads RTP packets from a capture source and writes them to
// the shared local track until the source drains or the context is
// cancelled. The fan-out to individual viewers is handled by the track
// itself; the pump does not know how many sessions are attached.
func PumpRTP(ctx context.Context, src io.Reader, track *webrtc.TrackLocalStaticRTP, logger *zap.SugaredLogger) error {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			logger.Warnw("dropping malformed RTP packet", "track_id", track.ID(), "error", err)
			continue
		}

		if err := track.WriteRTP(packet); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				// No attached sessions yet; keep pumping.
				continue
			}
			return err
		}
	}
}
