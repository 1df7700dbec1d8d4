package registry

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ukunda/rdm/internal/v1/blobstore"
	"github.com/ukunda/rdm/internal/v1/ratelimit"
	"github.com/ukunda/rdm/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLimiter(t *testing.T) *ratelimit.JoinLimiter {
	t.Helper()
	l, err := ratelimit.NewJoinLimiter("1000-H", nil)
	require.NoError(t, err)
	return l
}

var codePattern = regexp.MustCompile(`^[A-Z]{5}-[0-9]{5}-[A-Z]{5}$`)

func TestCreate_MintsWellFormedCode(t *testing.T) {
	reg := New(time.Hour, newTestLimiter(t), nil, nil)
	t.Cleanup(reg.Shutdown)

	r, hostID, err := reg.Create("Alice", "hunter42")
	require.NoError(t, err)
	assert.Regexp(t, codePattern, string(r.Code()))
	assert.Equal(t, hostID, r.HostID())
}

func TestCreate_RejectsShortPassword(t *testing.T) {
	reg := New(time.Hour, newTestLimiter(t), nil, nil)
	t.Cleanup(reg.Shutdown)

	_, _, err := reg.Create("Alice", "abc")
	assert.Error(t, err)
}

func TestLookup_FindsCreatedRoom(t *testing.T) {
	reg := New(time.Hour, newTestLimiter(t), nil, nil)
	t.Cleanup(reg.Shutdown)

	r, _, err := reg.Create("Alice", "hunter42")
	require.NoError(t, err)

	found, ok := reg.Lookup(r.Code())
	assert.True(t, ok)
	assert.Same(t, r, found)

	_, ok = reg.Lookup(types.RoomCode("NOPE-00000-NOPE"))
	assert.False(t, ok)
}

func TestVerify_PasswordMatchAndMismatch(t *testing.T) {
	reg := New(time.Hour, newTestLimiter(t), nil, nil)
	t.Cleanup(reg.Shutdown)

	r, _, err := reg.Create("Alice", "hunter42")
	require.NoError(t, err)

	assert.True(t, reg.Verify(r.Code(), "hunter42"))
	assert.False(t, reg.Verify(r.Code(), "wrong-password"))
}

func TestRoomCodesAreUnique(t *testing.T) {
	reg := New(time.Hour, newTestLimiter(t), nil, nil)
	t.Cleanup(reg.Shutdown)

	seen := make(map[types.RoomCode]bool)
	for i := 0; i < 25; i++ {
		r, _, err := reg.Create("Alice", "hunter42")
		require.NoError(t, err)
		assert.False(t, seen[r.Code()])
		seen[r.Code()] = true
	}
}

func TestSweep_ReapsExpiredRoomsAndIsIdempotent(t *testing.T) {
	reg := New(time.Millisecond, newTestLimiter(t), nil, nil)
	t.Cleanup(reg.Shutdown)

	r, _, err := reg.Create("Alice", "hunter42")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	reg.Sweep()

	_, ok := reg.Lookup(r.Code())
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count())

	reg.Sweep()
	assert.Equal(t, 0, reg.Count())
}

func TestSweep_DropsBlobStoreDirectoryForReapedRoom(t *testing.T) {
	dir := t.TempDir()
	blobs := blobstore.New(dir, 10<<20)

	reg := New(time.Millisecond, newTestLimiter(t), nil, blobs)
	t.Cleanup(reg.Shutdown)

	r, _, err := reg.Create("Alice", "hunter42")
	require.NoError(t, err)

	roomDir := filepath.Join(dir, string(r.Code()))
	require.NoError(t, os.MkdirAll(roomDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(roomDir, "clip.mp4"), []byte("video"), 0o644))

	time.Sleep(5 * time.Millisecond)
	reg.Sweep()

	_, err = os.Stat(roomDir)
	assert.True(t, os.IsNotExist(err), "reaping a room must remove its blob store directory")
}

func TestCheckRateLimit_AndRecordAttempt(t *testing.T) {
	limiter, err := ratelimit.NewJoinLimiter("2-M", nil)
	require.NoError(t, err)
	reg := New(time.Hour, limiter, nil, nil)
	t.Cleanup(reg.Shutdown)

	ctx := context.Background()
	assert.True(t, reg.CheckRateLimit(ctx, "1.2.3.4"))
	reg.RecordAttempt(ctx, "1.2.3.4")
	assert.True(t, reg.CheckRateLimit(ctx, "1.2.3.4"))
	reg.RecordAttempt(ctx, "1.2.3.4")
	assert.False(t, reg.CheckRateLimit(ctx, "1.2.3.4"))
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
}
