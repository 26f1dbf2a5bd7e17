package relay

import (
	"testing"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func testClient(t *testing.T, connID string, identity domain.Identity) *client {
	t.Helper()
	c := newClient(connID, nil, nil, zaptest.NewLogger(t).Sugar())
	c.setIdentity(identity)
	return c
}

func viewerID(user, device string) domain.Identity {
	return domain.Identity{
		Role:     domain.RoleViewer,
		UserID:   domain.UserID(user),
		DeviceID: domain.DeviceID(device),
		SchoolID: "school-1",
	}
}

func TestRegistry_BindAndGet(t *testing.T) {
	r := NewRegistry()
	identity := viewerID("teacher-1", "device-1")
	c := testClient(t, "conn-1", identity)

	prior := r.Bind(c)
	assert.Nil(t, prior)

	got, ok := r.Get(identity)
	assert.True(t, ok)
	assert.Same(t, c, got)
	assert.True(t, r.IsConnected(identity))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_BindIgnoresUnauthenticated(t *testing.T) {
	r := NewRegistry()
	c := newClient("conn-1", nil, nil, zaptest.NewLogger(t).Sugar())

	assert.Nil(t, r.Bind(c))
	assert.Equal(t, 0, r.Len())
}

// A second connection for the same identity replaces the first; the
// registry never holds two entries for one identity.
func TestRegistry_RebindReplacesPrior(t *testing.T) {
	r := NewRegistry()
	identity := viewerID("teacher-1", "device-1")
	old := testClient(t, "conn-1", identity)
	fresh := testClient(t, "conn-2", identity)

	assert.Nil(t, r.Bind(old))
	prior := r.Bind(fresh)
	assert.Same(t, old, prior)

	got, ok := r.Get(identity)
	assert.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RebindSameClientIsNoop(t *testing.T) {
	r := NewRegistry()
	c := testClient(t, "conn-1", viewerID("teacher-1", "device-1"))

	assert.Nil(t, r.Bind(c))
	assert.Nil(t, r.Bind(c))
	assert.Equal(t, 1, r.Len())
}

// The stale connection's cleanup must not unbind the replacement.
func TestRegistry_UnbindOnlyRemovesCurrent(t *testing.T) {
	r := NewRegistry()
	identity := viewerID("teacher-1", "device-1")
	old := testClient(t, "conn-1", identity)
	fresh := testClient(t, "conn-2", identity)

	r.Bind(old)
	r.Bind(fresh)

	assert.False(t, r.Unbind(old))
	assert.True(t, r.IsConnected(identity))

	assert.True(t, r.Unbind(fresh))
	assert.False(t, r.IsConnected(identity))
}

func TestRegistry_DistinctRolesAreDistinctEntries(t *testing.T) {
	r := NewRegistry()
	viewer := testClient(t, "conn-1", viewerID("user-1", "device-1"))
	broadcaster := testClient(t, "conn-2", domain.Identity{
		Role:     domain.RoleBroadcaster,
		UserID:   "user-1",
		DeviceID: "device-1",
		SchoolID: "school-1",
	})

	r.Bind(viewer)
	r.Bind(broadcaster)

	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.Entries(), 2)
}
