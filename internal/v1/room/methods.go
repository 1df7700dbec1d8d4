package room

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/ukunda/rdm/internal/v1/apperr"
	"github.com/ukunda/rdm/internal/v1/metrics"
	"github.com/ukunda/rdm/internal/v1/types"
)

// Join registers username as a new participant without attaching a
// channel yet (the HTTP Surface calls this from create/join before the
// signaling channel exists). The first joiner becomes host (spec §4.A
// `create` binds the creator's id to host_id).
func (r *Room) Join(username string) (types.ParticipantID, Snapshot, error) {
	if err := types.ValidateUsername(username); err != nil {
		return "", Snapshot{}, apperr.Wrap(apperr.KindMalformedInput, "invalid username", err)
	}

	id := types.ParticipantID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hostID == "" {
		r.hostID = id
	}
	r.participants[id] = &participant{id: id, username: username, joined: time.Now()}
	r.touchLocked()
	metrics.RoomParticipants.WithLabelValues(string(r.code)).Set(float64(len(r.participants)))

	return id, r.snapshotLocked(), nil
}

// Attach binds a signaling channel to an already-joined participant,
// completing the handshake described in spec §4.E: the caller sends the
// returned Snapshot as room_state, and every other channel receives
// user_joined.
func (r *Room) Attach(participantID types.ParticipantID, channel Channel) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[participantID]
	if !ok {
		return Snapshot{}, apperr.New(apperr.KindNotFound, "participant not found in room")
	}
	p.channel = channel
	r.touchLocked()

	users := make([]UserSummary, 0, len(r.participants))
	for _, other := range r.participants {
		users = append(users, UserSummary{UserID: other.id, Username: other.username})
	}
	r.broadcastLocked(OutboundUserJoined{
		Type:     "user_joined",
		UserID:   p.id,
		Username: p.username,
		Users:    users,
	}, participantID)

	return r.snapshotLocked(), nil
}

// Leave removes a participant and broadcasts its departure (spec §4.B
// `leave`). A departure during SYNCING may complete the ready-sync
// barrier (spec §4.F "participant churn").
func (r *Room) Leave(participantID types.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[participantID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "participant not found in room")
	}
	delete(r.participants, participantID)
	delete(r.readySet, participantID)
	r.touchLocked()

	if len(r.participants) > 0 {
		metrics.RoomParticipants.WithLabelValues(string(r.code)).Set(float64(len(r.participants)))
	} else {
		metrics.RoomParticipants.DeleteLabelValues(string(r.code))
	}

	if r.pendingVideo != "" && r.readySetCoversParticipantsLocked() {
		r.commitLocked()
	}

	users := make([]UserSummary, 0, len(r.participants))
	for _, other := range r.participants {
		users = append(users, UserSummary{UserID: other.id, Username: other.username})
	}
	r.broadcastLocked(OutboundUserLeft{
		Type:     "user_left",
		UserID:   p.id,
		Username: p.username,
		Users:    users,
	}, "")
	return nil
}

// ApplyPlayback handles play/pause/seek (spec §4.B `apply`). kind must be
// one of "play", "pause", "seek".
func (r *Room) ApplyPlayback(kind string, position float64, from types.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[from]; !ok {
		return apperr.New(apperr.KindForbidden, "not a member of this room")
	}

	switch kind {
	case "play":
		r.playbackState.Playing = true
		r.playbackState.Position = position
	case "pause":
		r.playbackState.Playing = false
		r.playbackState.Position = position
	case "seek":
		r.playbackState.Position = position
	default:
		return apperr.New(apperr.KindMalformedInput, "unknown playback event type")
	}
	r.playbackState.LastUpdate = time.Now()
	r.touchLocked()

	r.broadcastLocked(OutboundPlayback{
		Type:      kind,
		Position:  position,
		User:      from,
		Timestamp: nowMillis(),
	}, from)
	return nil
}

// ApplySpeed handles the speed event (spec §4.B `apply`).
func (r *Room) ApplySpeed(speed float64, from types.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[from]; !ok {
		return apperr.New(apperr.KindForbidden, "not a member of this room")
	}
	if speed <= 0 {
		return apperr.New(apperr.KindMalformedInput, "speed must be positive")
	}
	r.playbackState.Speed = speed
	r.playbackState.LastUpdate = time.Now()
	r.touchLocked()

	r.broadcastLocked(OutboundSpeed{Type: "speed", Speed: speed, User: from}, from)
	return nil
}

// AddVideo records an accepted upload in the catalogue and announces it
// to everyone, including the uploader (spec §4.D, §4.E outbound
// video_uploaded).
func (r *Room) AddVideo(entry types.CatalogueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.catalogue[entry.ID] = entry
	r.touchLocked()

	r.broadcastLocked(OutboundVideoUploaded{
		Type:       "video_uploaded",
		VideoID:    entry.ID,
		Filename:   entry.OriginalName,
		Size:       entry.Size,
		UploadedBy: entry.UploaderID,
	}, "")
}

// ShareVideo opens the ready-sync barrier for videoID (spec §4.B
// `shareVideo`). from is considered ready immediately since it already
// has the bytes locally.
func (r *Room) ShareVideo(videoID types.VideoID, from types.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.catalogue[videoID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "video not found in room catalogue")
	}
	if _, ok := r.participants[from]; !ok {
		return apperr.New(apperr.KindForbidden, "not a member of this room")
	}

	if r.syncTimer != nil {
		r.syncTimer.Stop()
	}

	r.pendingVideo = videoID
	r.playbackState.Playing = false
	r.playbackState.Position = 0
	r.readySet = map[types.ParticipantID]struct{}{from: {}}
	r.touchLocked()

	r.broadcastLocked(OutboundPrepareVideo{
		Type:      "prepare_video",
		VideoID:   videoID,
		Filename:  entry.OriginalName,
		User:      from,
		Timestamp: nowMillis(),
	}, from)

	if r.readySetCoversParticipantsLocked() {
		r.commitLocked()
		return nil
	}

	r.syncTimer = time.AfterFunc(ReadySyncTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pendingVideo == videoID {
			r.commitLocked()
		}
	})
	return nil
}

// MarkReady records that participantID finished downloading videoID
// (spec §4.B `markReady`). A ready for a video that is no longer pending
// is a stale no-op.
func (r *Room) MarkReady(participantID types.ParticipantID, videoID types.VideoID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pendingVideo != videoID {
		return
	}
	r.readySet[participantID] = struct{}{}
	r.touchLocked()

	r.broadcastLocked(OutboundReadyProgress{
		Type:    "ready_progress",
		VideoID: videoID,
		Ready:   len(r.readySet),
		Total:   len(r.participants),
	}, "")

	if r.readySetCoversParticipantsLocked() {
		r.commitLocked()
	}
}

// readySetCoversParticipantsLocked reports whether every current
// participant has signalled readiness (spec invariant: ready_set is a
// subset of participants, and the barrier commits when they're equal).
func (r *Room) readySetCoversParticipantsLocked() bool {
	if r.pendingVideo == "" {
		return false
	}
	for id := range r.participants {
		if _, ready := r.readySet[id]; !ready {
			return false
		}
	}
	return true
}

// commitLocked transitions SYNCING to PLAYING. Callers must hold r.mu.
// Idempotent: a commit already performed is a no-op if pendingVideo was
// already cleared (the sync-timer closure re-checks pendingVideo before
// calling this).
func (r *Room) commitLocked() {
	if r.pendingVideo == "" {
		return
	}
	if r.syncTimer != nil {
		r.syncTimer.Stop()
		r.syncTimer = nil
	}
	videoID := r.pendingVideo
	r.pendingVideo = ""
	r.activeVideo = videoID
	r.playbackState.Playing = true
	r.playbackState.Position = 0
	r.playbackState.LastUpdate = time.Now()
	r.readySet = make(map[types.ParticipantID]struct{})

	r.broadcastLocked(OutboundAllReady{Type: "all_ready", VideoID: videoID}, "")
}

// Kick evicts target from the room if requester is the room's host
// (spec §4.B `kick`). A non-host attempt is an explicit error reply, not
// a silent no-op (spec §4.B "Failure semantics"); the caller is expected
// to relay the returned error to requester as a channel `error` message.
func (r *Room) Kick(requester, target types.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requester != r.hostID {
		return apperr.New(apperr.KindForbidden, "Only the host can kick users")
	}

	targetParticipant, ok := r.participants[target]
	if !ok {
		return apperr.New(apperr.KindNotFound, "target participant not found")
	}

	hostParticipant := r.participants[requester]
	hostUsername := ""
	if hostParticipant != nil {
		hostUsername = hostParticipant.username
	}

	delete(r.participants, target)
	delete(r.readySet, target)
	r.touchLocked()

	if r.pendingVideo != "" && r.readySetCoversParticipantsLocked() {
		r.commitLocked()
	}

	if targetParticipant.channel != nil {
		_ = targetParticipant.channel.Send(OutboundKicked{
			Type:    "kicked",
			Message: fmt.Sprintf("You were kicked by %s", hostUsername),
		})
		targetParticipant.channel.Close("kicked")
	}

	users := make([]UserSummary, 0, len(r.participants))
	for _, other := range r.participants {
		users = append(users, UserSummary{UserID: other.id, Username: other.username})
	}
	r.broadcastLocked(OutboundUserKicked{
		Type:     "user_kicked",
		Username: targetParticipant.username,
		KickedBy: requester,
		Users:    users,
	}, "")
	return nil
}

// SetSharedPool toggles shared-pool mode if requester is the room's host
// (spec §4.B `setSharedPool`).
func (r *Room) SetSharedPool(requester types.ParticipantID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requester != r.hostID {
		return apperr.New(apperr.KindForbidden, "only the host can change the shared pool setting")
	}
	r.sharedPool = enabled
	r.touchLocked()

	r.broadcastLocked(OutboundSharedPoolChanged{
		Type:      "shared_pool_changed",
		Enabled:   enabled,
		ChangedBy: requester,
	}, "")
	return nil
}

// RequestRandom delegates a random-clip request to a uniformly chosen
// participant when shared-pool mode is enabled, otherwise bounces the
// directive back to the requester (spec §4.B `requestRandom`). The
// requester may be selected; this mirrors the source behaviour and is
// recorded as an accepted design choice, not a bug (spec §9 Open
// Questions).
func (r *Room) RequestRandom(from types.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[from]; !ok {
		return apperr.New(apperr.KindForbidden, "not a member of this room")
	}

	target := from
	if r.sharedPool && len(r.participants) > 0 {
		ids := make([]types.ParticipantID, 0, len(r.participants))
		for id := range r.participants {
			ids = append(ids, id)
		}
		target = ids[rand.IntN(len(ids))]
	}

	p, ok := r.participants[target]
	if !ok || p.channel == nil {
		return nil
	}
	_ = p.channel.Send(OutboundProvideRandomClip{Type: "provide_random_clip", RequestedBy: from})
	return nil
}
