// Package room implements the Room (spec §4.B): membership, playback
// state, video catalogue, and the ready-sync barrier. It is grounded on
// the teacher's room.Room — a mutex-guarded struct with locked/unlocked
// method pairs — generalized from video-conference roles and chat history
// to a watch-together catalogue and ready-sync state machine.
package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ukunda/rdm/internal/v1/bus"
	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/types"
)

// ReadySyncTimeout is the ready-sync barrier duration (spec §4.F). A var,
// not a const, so tests can shrink it instead of sleeping thirty seconds.
var ReadySyncTimeout = 30 * time.Second

type participant struct {
	id       types.ParticipantID
	username string
	joined   time.Time
	channel  Channel
}

// Room is the unit of shared session (spec §3).
type Room struct {
	code           types.RoomCode
	passwordDigest string
	hostID         types.ParticipantID
	createdAt      time.Time

	mu            sync.Mutex
	lastActivity  time.Time
	participants  map[types.ParticipantID]*participant
	catalogue     map[types.VideoID]types.CatalogueEntry
	playbackState types.PlaybackState
	activeVideo   types.VideoID
	pendingVideo  types.VideoID
	readySet      map[types.ParticipantID]struct{}
	sharedPool    bool
	syncTimer     *time.Timer

	bus    *bus.Service
	wg     *sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New allocates an empty Room with no participants yet.
func New(code types.RoomCode, passwordDigest string, busService *bus.Service, wg *sync.WaitGroup) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	r := &Room{
		code:           code,
		passwordDigest: passwordDigest,
		createdAt:      now,
		lastActivity:   now,
		participants:   make(map[types.ParticipantID]*participant),
		catalogue:      make(map[types.VideoID]types.CatalogueEntry),
		playbackState:  types.PlaybackState{Speed: 1.0, LastUpdate: now},
		readySet:       make(map[types.ParticipantID]struct{}),
		bus:            busService,
		wg:             wg,
		ctx:            ctx,
		cancel:         cancel,
	}
	if busService != nil {
		r.subscribeToBus()
	}
	return r
}

func (r *Room) Code() types.RoomCode   { return r.code }
func (r *Room) PasswordDigest() string { return r.passwordDigest }

func (r *Room) HostID() types.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// LastActivity returns the instant of the most recent state-mutating
// operation, used by the Registry's expiry sweep.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Room) touchLocked() {
	r.lastActivity = time.Now()
}

// Close ends the Room, closing every participant channel with reason and
// cancelling background work (the sync timer, the bus subscription).
func (r *Room) Close(reason string) {
	r.mu.Lock()
	targets := make([]*participant, 0, len(r.participants))
	for _, p := range r.participants {
		targets = append(targets, p)
	}
	if r.syncTimer != nil {
		r.syncTimer.Stop()
	}
	r.mu.Unlock()

	r.cancel()
	for _, p := range targets {
		if p.channel != nil {
			p.channel.Close(reason)
		}
	}
	logging.Info(logging.WithRoomCode(context.Background(), string(r.code)), "room closed", zap.String("reason", reason))
}

func (r *Room) snapshotLocked() Snapshot {
	users := make([]UserSummary, 0, len(r.participants))
	for _, p := range r.participants {
		users = append(users, UserSummary{UserID: p.id, Username: p.username})
	}
	videos := make(map[types.VideoID]VideoSummary, len(r.catalogue))
	for id, entry := range r.catalogue {
		videos[id] = VideoSummary{Filename: entry.OriginalName, Size: entry.Size}
	}
	return Snapshot{
		Users: users,
		PlaybackState: PlaybackStateView{
			Playing:  r.playbackState.Playing,
			Position: r.playbackState.Position,
			Speed:    r.playbackState.Speed,
		},
		CurrentVideo: r.activeVideo,
		HostID:       r.hostID,
		Videos:       videos,
	}
}

// Snapshot returns the current room state, used by the HTTP Surface's
// create/join responses (spec §6).
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// broadcastLocalLocked sends v to every locally-connected participant
// except excludeID (pass "" to include everyone). Fan-out is best-effort:
// a failing channel is dropped from the room instead of aborting the
// broadcast (spec §4.B "Failure semantics"). It never touches the bus,
// so it is safe to call from a bus-delivered envelope without causing a
// republish loop.
func (r *Room) broadcastLocalLocked(v any, excludeID types.ParticipantID) {
	var failed []*participant
	for id, p := range r.participants {
		if id == excludeID || p.channel == nil {
			continue
		}
		if err := p.channel.Send(v); err != nil {
			failed = append(failed, p)
		}
	}
	for _, p := range failed {
		delete(r.participants, p.id)
		logging.Warn(context.Background(), "dropping participant after failed send",
			zap.String("room_code", string(r.code)), zap.String("participant_id", string(p.id)))
	}
}

// broadcastLocked sends v to every local participant except excludeID and,
// if this process is part of a multi-instance deployment, publishes it to
// the bus so peer processes mirror it to the connections they hold.
func (r *Room) broadcastLocked(v any, excludeID types.ParticipantID) {
	r.broadcastLocalLocked(v, excludeID)
	if r.bus != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.bus.Publish(context.Background(), string(r.code), "fanout", v, string(excludeID)); err != nil {
				logging.Warn(context.Background(), "bus publish failed", zap.Error(err))
			}
		}()
	}
}

// subscribeToBus mirrors envelopes published by peer processes to the
// participants this process holds locally, excluding the originator. It
// never calls broadcastLocked: replaying through the bus-publishing path
// would re-announce the envelope to every instance and loop forever.
func (r *Room) subscribeToBus() {
	r.bus.Subscribe(r.ctx, string(r.code), r.wg, func(env bus.Envelope) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.broadcastLocalLocked(env.Payload, types.ParticipantID(env.SenderID))
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
