package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ukunda/rdm/internal/v1/bus"
	"github.com/ukunda/rdm/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeChannel records every message sent to it for assertions.
type fakeChannel struct {
	mu       sync.Mutex
	sent     []any
	closed   bool
	closeMsg string
	failNext bool
}

func (f *fakeChannel) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return assert.AnError
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeChannel) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeMsg = reason
}

func (f *fakeChannel) last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	var wg sync.WaitGroup
	r := New("ABCDE-12345-FGHIJ", "digest", nil, &wg)
	t.Cleanup(func() {
		r.Close("test cleanup")
		wg.Wait()
	})
	return r
}

func joinAndAttach(t *testing.T, r *Room, username string) (types.ParticipantID, *fakeChannel) {
	t.Helper()
	id, _, err := r.Join(username)
	require.NoError(t, err)
	ch := &fakeChannel{}
	_, err = r.Attach(id, ch)
	require.NoError(t, err)
	return id, ch
}

func TestJoin_FirstParticipantBecomesHost(t *testing.T) {
	r := newTestRoom(t)
	alice, _, err := r.Join("Alice")
	require.NoError(t, err)
	assert.Equal(t, alice, r.HostID())
}

func TestJoin_RejectsInvalidUsername(t *testing.T) {
	r := newTestRoom(t)
	_, _, err := r.Join("")
	assert.Error(t, err)
}

func TestAttach_BroadcastsUserJoinedExcludingSelf(t *testing.T) {
	r := newTestRoom(t)
	_, aliceCh := joinAndAttach(t, r, "Alice")
	_, _ = joinAndAttach(t, r, "Bob")

	found := false
	for _, msg := range aliceCh.sent {
		if _, ok := msg.(OutboundUserJoined); ok {
			found = true
		}
	}
	assert.True(t, found, "Alice should receive user_joined for Bob")
}

func TestLeave_RemovesParticipantAndBroadcasts(t *testing.T) {
	r := newTestRoom(t)
	_, aliceCh := joinAndAttach(t, r, "Alice")
	bob, _ := joinAndAttach(t, r, "Bob")

	require.NoError(t, r.Leave(bob))

	snap := r.Snapshot()
	assert.Len(t, snap.Users, 1)

	found := false
	for _, msg := range aliceCh.sent {
		if ul, ok := msg.(OutboundUserLeft); ok && ul.UserID == bob {
			found = true
		}
	}
	assert.True(t, found)
}

func TestApplyPlayback_ExcludesOriginator(t *testing.T) {
	r := newTestRoom(t)
	alice, aliceCh := joinAndAttach(t, r, "Alice")
	_, bobCh := joinAndAttach(t, r, "Bob")

	require.NoError(t, r.ApplyPlayback("play", 0.1, alice))

	for _, msg := range aliceCh.sent {
		if _, ok := msg.(OutboundPlayback); ok {
			t.Fatal("originator must not receive its own playback event")
		}
	}
	found := false
	for _, msg := range bobCh.sent {
		if pb, ok := msg.(OutboundPlayback); ok && pb.Type == "play" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestShareVideo_SoleParticipantCommitsImmediately(t *testing.T) {
	r := newTestRoom(t)
	alice, aliceCh := joinAndAttach(t, r, "Alice")
	r.AddVideo(types.CatalogueEntry{ID: "v1", OriginalName: "clip.mp4", Size: 100, UploaderID: alice})

	require.NoError(t, r.ShareVideo("v1", alice))

	snap := r.Snapshot()
	assert.Equal(t, types.VideoID("v1"), snap.CurrentVideo)
	assert.True(t, snap.PlaybackState.Playing)

	foundAllReady := false
	for _, msg := range aliceCh.sent {
		if ar, ok := msg.(OutboundAllReady); ok && ar.VideoID == "v1" {
			foundAllReady = true
		}
	}
	assert.True(t, foundAllReady)
}

func TestShareVideo_BarrierCommitsWhenEveryoneReady(t *testing.T) {
	r := newTestRoom(t)
	alice, _ := joinAndAttach(t, r, "Alice")
	bob, bobCh := joinAndAttach(t, r, "Bob")
	carol, carolCh := joinAndAttach(t, r, "Carol")

	r.AddVideo(types.CatalogueEntry{ID: "v2", OriginalName: "clip2.mp4", Size: 50, UploaderID: alice})
	require.NoError(t, r.ShareVideo("v2", alice))

	snap := r.Snapshot()
	assert.Equal(t, types.VideoID(""), snap.CurrentVideo, "still SYNCING, not yet committed")

	r.MarkReady(bob, "v2")
	progressSeen := false
	for _, msg := range bobCh.sent {
		if rp, ok := msg.(OutboundReadyProgress); ok && rp.Ready == 2 && rp.Total == 3 {
			progressSeen = true
		}
	}
	assert.True(t, progressSeen)

	r.MarkReady(carol, "v2")

	allReady := false
	for _, msg := range carolCh.sent {
		if ar, ok := msg.(OutboundAllReady); ok && ar.VideoID == "v2" {
			allReady = true
		}
	}
	assert.True(t, allReady)
	assert.True(t, r.Snapshot().PlaybackState.Playing)
}

func TestShareVideo_TimeoutForceCommits(t *testing.T) {
	orig := ReadySyncTimeout
	ReadySyncTimeout = 30 * time.Millisecond
	defer func() { ReadySyncTimeout = orig }()

	r := newTestRoom(t)
	alice, _ := joinAndAttach(t, r, "Alice")
	_, bobCh := joinAndAttach(t, r, "Bob")

	r.AddVideo(types.CatalogueEntry{ID: "v3", OriginalName: "clip3.mp4", Size: 10, UploaderID: alice})
	require.NoError(t, r.ShareVideo("v3", alice))

	require.Eventually(t, func() bool {
		for _, msg := range bobCh.sent {
			if _, ok := msg.(OutboundAllReady); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestLeave_DuringSyncingCanCompleteBarrier(t *testing.T) {
	r := newTestRoom(t)
	alice, _ := joinAndAttach(t, r, "Alice")
	bob, _ := joinAndAttach(t, r, "Bob")

	r.AddVideo(types.CatalogueEntry{ID: "v4", OriginalName: "clip4.mp4", Size: 10, UploaderID: alice})
	require.NoError(t, r.ShareVideo("v4", alice))
	assert.False(t, r.Snapshot().PlaybackState.Playing)

	require.NoError(t, r.Leave(bob))
	assert.True(t, r.Snapshot().PlaybackState.Playing, "removing the only non-ready participant should commit")
}

func TestKick_NonHostIsRejected(t *testing.T) {
	r := newTestRoom(t)
	_, _ = joinAndAttach(t, r, "Alice")
	bob, _ := joinAndAttach(t, r, "Bob")

	err := r.Kick(bob, bob)
	assert.Error(t, err)
}

func TestKick_HostEvictsTarget(t *testing.T) {
	r := newTestRoom(t)
	alice, _ := joinAndAttach(t, r, "Alice")
	bob, bobCh := joinAndAttach(t, r, "Bob")

	require.NoError(t, r.Kick(alice, bob))

	assert.True(t, bobCh.closed)
	snap := r.Snapshot()
	assert.Len(t, snap.Users, 1)

	found := false
	for _, msg := range bobCh.sent {
		if k, ok := msg.(OutboundKicked); ok {
			found = true
			assert.Equal(t, "You were kicked by Alice", k.Message)
		}
	}
	assert.True(t, found)
}

func TestSetSharedPool_OnlyHost(t *testing.T) {
	r := newTestRoom(t)
	alice, _ := joinAndAttach(t, r, "Alice")
	bob, _ := joinAndAttach(t, r, "Bob")

	assert.Error(t, r.SetSharedPool(bob, true))
	assert.NoError(t, r.SetSharedPool(alice, true))
}

func TestRequestRandom_DefaultsToRequesterWhenPoolDisabled(t *testing.T) {
	r := newTestRoom(t)
	alice, aliceCh := joinAndAttach(t, r, "Alice")
	_, _ = joinAndAttach(t, r, "Bob")

	require.NoError(t, r.RequestRandom(alice))

	found := false
	for _, msg := range aliceCh.sent {
		if pr, ok := msg.(OutboundProvideRandomClip); ok && pr.RequestedBy == alice {
			found = true
		}
	}
	assert.True(t, found)
}

// TestSubscribeToBus_ReplaysEnvelopeToLocalParticipantsExcludingSender
// exercises two Room instances sharing a roomCode over a real (miniredis)
// bus, simulating two server processes: a broadcast originating in one
// Room's local participant must reach the other Room's local participant,
// but never loop back to the sender.
func TestSubscribeToBus_ReplaysEnvelopeToLocalParticipantsExcludingSender(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	svc, err := bus.NewService(mr.Addr(), "")
	require.NoError(t, err)
	defer svc.Close()

	code := types.RoomCode("ABCDE-12345-FGHIJ")

	var wg1, wg2 sync.WaitGroup
	roomA := New(code, "digest", svc, &wg1)
	defer func() { roomA.Close("test cleanup"); wg1.Wait() }()
	roomB := New(code, "digest", svc, &wg2)
	defer func() { roomB.Close("test cleanup"); wg2.Wait() }()

	alice, aliceCh := joinAndAttach(t, roomA, "Alice")
	_, bobCh := joinAndAttach(t, roomB, "Bob")

	require.NoError(t, roomA.ApplyPlayback("play", 0.75, alice))

	require.Eventually(t, func() bool {
		for _, msg := range bobCh.sent {
			raw, ok := msg.(json.RawMessage)
			if !ok {
				continue
			}
			var replayed OutboundPlayback
			if err := json.Unmarshal(raw, &replayed); err == nil && replayed.Type == "play" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "bob on the peer process should receive the replayed envelope")

	// Alice may legitimately receive Bob's cross-instance user_joined; what
	// must never reach her is the replay of her own play event.
	ownPlayReplayed := false
	for _, msg := range aliceCh.sent {
		raw, ok := msg.(json.RawMessage)
		if !ok {
			continue
		}
		var replayed OutboundPlayback
		if err := json.Unmarshal(raw, &replayed); err == nil && replayed.Type == "play" {
			ownPlayReplayed = true
		}
	}
	assert.False(t, ownPlayReplayed, "the originating participant must never receive its own replayed envelope")
}

func TestFanout_DropsFailingParticipant(t *testing.T) {
	r := newTestRoom(t)
	alice, _ := joinAndAttach(t, r, "Alice")
	_, bobCh := joinAndAttach(t, r, "Bob")
	bobCh.failNext = true

	require.NoError(t, r.ApplyPlayback("play", 0, alice))

	snap := r.Snapshot()
	assert.Len(t, snap.Users, 1, "bob should be dropped after a failed send")
}
