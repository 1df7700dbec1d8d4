// Package registry implements the Room Registry (spec §4.A): the
// in-memory mapping from room code to Room, code minting, the join
// rate-limit table, and the expiry sweep. It is grounded on the teacher's
// transport.Hub, which owns a map[RoomIdType]*room.Room behind a single
// sync.Mutex and mediates creation/cleanup the same way.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ukunda/rdm/internal/v1/apperr"
	"github.com/ukunda/rdm/internal/v1/blobstore"
	"github.com/ukunda/rdm/internal/v1/bus"
	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/metrics"
	"github.com/ukunda/rdm/internal/v1/ratelimit"
	"github.com/ukunda/rdm/internal/v1/room"
	"github.com/ukunda/rdm/internal/v1/tracing"
	"github.com/ukunda/rdm/internal/v1/types"
)

const codeAlphabetLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
const codeAlphabetDigits = "0123456789"

// Registry owns every Room for this process (spec §3 "Ownership").
type Registry struct {
	mu    sync.RWMutex
	rooms map[types.RoomCode]*room.Room

	expiry  time.Duration
	limiter *ratelimit.JoinLimiter
	bus     *bus.Service
	blobs   *blobstore.Store

	wg sync.WaitGroup
}

// New builds a Registry. expiry is the inactivity horizon after which
// sweep() reaps a Room (spec §3 default four hours). limiter may be nil
// only in tests; busService may be nil to run single-instance. blobs may
// also be nil in tests that never upload; a reaped room with a nil blobs
// simply skips freeing its upload directory.
func New(expiry time.Duration, limiter *ratelimit.JoinLimiter, busService *bus.Service, blobs *blobstore.Store) *Registry {
	return &Registry{
		rooms:   make(map[types.RoomCode]*room.Room),
		expiry:  expiry,
		limiter: limiter,
		bus:     busService,
		blobs:   blobs,
	}
}

// Create mints a unique room code, hashes the password, and allocates a
// fresh Room with the creator as host (spec §4.A `create`).
func (reg *Registry) Create(username, password string) (*room.Room, types.ParticipantID, error) {
	if err := types.ValidateUsername(username); err != nil {
		return nil, "", apperr.Wrap(apperr.KindMalformedInput, "invalid username", err)
	}
	if err := types.ValidatePassword(password); err != nil {
		return nil, "", apperr.Wrap(apperr.KindMalformedInput, "invalid password", err)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindTransient, "failed to hash room password", err)
	}

	reg.mu.Lock()
	code, err := reg.mintUniqueCodeLocked()
	if err != nil {
		reg.mu.Unlock()
		return nil, "", apperr.Wrap(apperr.KindTransient, "failed to mint room code", err)
	}
	r := room.New(code, string(digest), reg.bus, &reg.wg)
	reg.rooms[code] = r
	reg.mu.Unlock()

	metrics.ActiveRooms.Inc()
	hostID, _, err := r.Join(username)
	if err != nil {
		reg.mu.Lock()
		delete(reg.rooms, code)
		reg.mu.Unlock()
		metrics.ActiveRooms.Dec()
		return nil, "", err
	}
	logging.Info(logging.WithRoomCode(context.Background(), string(code)), "room created")
	return r, hostID, nil
}

// Lookup returns the Room for code, or false if it does not exist
// (spec §4.A `lookup`).
func (reg *Registry) Lookup(code types.RoomCode) (*room.Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// Verify checks password against code's room in constant time
// (spec §4.A `verify`).
func (reg *Registry) Verify(code types.RoomCode, password string) bool {
	r, ok := reg.Lookup(code)
	if !ok {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(r.PasswordDigest()), []byte(password))
	return err == nil
}

// ConstantTimeEqual is exposed for callers comparing opaque tokens
// (e.g. kick target ids) without a timing side channel.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CheckRateLimit is a non-recording peek at remote's join attempts
// (spec §4.A `checkRateLimit`).
func (reg *Registry) CheckRateLimit(ctx context.Context, remote string) bool {
	return reg.limiter.CheckRateLimit(ctx, remote)
}

// RecordAttempt records a join attempt for remote (spec §4.A `recordAttempt`).
func (reg *Registry) RecordAttempt(ctx context.Context, remote string) {
	reg.limiter.RecordAttempt(ctx, remote)
}

// Sweep removes rooms whose last activity is older than the expiry
// horizon, closing their channels with a close-reason of "expired"
// (spec §4.A `sweep`). Idempotent: a room removed by a prior sweep is
// simply absent on the next call (testable property 9).
func (reg *Registry) Sweep() {
	reg.mu.Lock()
	expired := make([]*room.Room, 0)
	now := time.Now()
	for code, r := range reg.rooms {
		if now.Sub(r.LastActivity()) > reg.expiry {
			expired = append(expired, r)
			delete(reg.rooms, code)
		}
	}
	reg.mu.Unlock()

	for _, r := range expired {
		_, endSpan := tracing.SpanWithRoomCode(context.Background(), "registry.sweep_reap", string(r.Code()))
		r.Close("expired")
		if reg.blobs != nil {
			if err := reg.blobs.DropRoom(r.Code()); err != nil {
				logging.Warn(logging.WithRoomCode(context.Background(), string(r.Code())),
					"failed to drop blob store directory for reaped room", zap.Error(err))
			}
		}
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(string(r.Code()))
		endSpan()
	}
}

// RunSweepLoop blocks, sweeping every interval until ctx is cancelled.
// Grounded on the teacher's Hub cleanup-timer pattern, generalized into
// a periodic loop per SPEC_FULL.md §4.H.
func (reg *Registry) RunSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep()
		}
	}
}

// Shutdown closes every Room, which stops its sync timer, and waits for
// their bus goroutines (subscriptions and in-flight publishes) to exit.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rooms := make([]*room.Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Close("server_shutdown")
	}
	reg.wg.Wait()
}

// Count returns the number of currently alive rooms, for the bit-exact
// GET /health response (spec §6).
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

func (reg *Registry) mintUniqueCodeLocked() (types.RoomCode, error) {
	for attempt := 0; attempt < 100; attempt++ {
		code, err := randomRoomCode()
		if err != nil {
			return "", err
		}
		if _, exists := reg.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not mint a unique room code after 100 attempts")
}

// randomRoomCode produces a three-group, hyphen-separated code of the
// form LETTERS-DIGITS-LETTERS, e.g. "ABCDE-12345-FGHIJ" (spec §3, S1).
func randomRoomCode() (types.RoomCode, error) {
	letters1, err := randomString(codeAlphabetLetters, 5)
	if err != nil {
		return "", err
	}
	digits, err := randomString(codeAlphabetDigits, 5)
	if err != nil {
		return "", err
	}
	letters2, err := randomString(codeAlphabetLetters, 5)
	if err != nil {
		return "", err
	}
	return types.RoomCode(fmt.Sprintf("%s-%s-%s", letters1, digits, letters2)), nil
}

func randomString(alphabet string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
