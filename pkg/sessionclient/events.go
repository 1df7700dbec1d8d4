package sessionclient

import (
	"time"

	"github.com/ukunda/rdm/internal/v1/room"
	"github.com/ukunda/rdm/internal/v1/types"
)

// EventType discriminates the payload carried by an Event, mirroring the
// wire protocol's own "type" discriminator (internal/v1/room/messages.go)
// one level up, after it has been decoded off the channel.
type EventType string

const (
	EventRoomState         EventType = "room_state"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventUserKicked        EventType = "user_kicked"
	EventKicked            EventType = "kicked"
	EventPlayback          EventType = "playback"
	EventSpeed             EventType = "speed"
	EventPrepareVideo      EventType = "prepare_video"
	EventReadyProgress     EventType = "ready_progress"
	EventAllReady          EventType = "all_ready"
	EventVideoUploaded     EventType = "video_uploaded"
	EventProvideRandomClip EventType = "provide_random_clip"
	EventSharedPoolChanged EventType = "shared_pool_changed"
	EventLatency           EventType = "latency"
	EventUploadProgress    EventType = "upload_progress"
	EventDownloadProgress  EventType = "download_progress"
	EventVideoReady        EventType = "video_ready"
	EventChannelError      EventType = "channel_error"
	EventDisconnected      EventType = "disconnected"
	EventReconnected       EventType = "reconnected"
)

// Event is the typed notification the Client emits on its Events channel
// for an embedding UI to consume (spec §5: "communicating with the UI
// through a typed event-notification mechanism"). Only the field matching
// Type is populated.
type Event struct {
	Type EventType

	RoomState         *room.Snapshot
	UserJoined        *UserChangeEvent
	UserLeft          *UserChangeEvent
	UserKicked        *UserKickedEvent
	Kicked            *KickedEvent
	Playback          *PlaybackEvent
	Speed             *SpeedEvent
	PrepareVideo      *PrepareVideoEvent
	ReadyProgress     *ReadyProgressEvent
	AllReady          *AllReadyEvent
	VideoUploaded     *VideoUploadedEvent
	ProvideRandomClip *ProvideRandomClipEvent
	SharedPoolChanged *SharedPoolChangedEvent
	Progress          *ProgressEvent
	VideoReady        *VideoReadyEvent
	Latency           time.Duration
	Err               error
}

type UserChangeEvent struct {
	UserID   types.ParticipantID
	Username string
	Users    []room.UserSummary
}

type UserKickedEvent struct {
	Username string
	KickedBy types.ParticipantID
	Users    []room.UserSummary
}

type KickedEvent struct {
	Message string
}

// PlaybackEvent's Kind is "play", "pause", or "seek".
type PlaybackEvent struct {
	Kind     string
	Position float64
	User     types.ParticipantID
}

type SpeedEvent struct {
	Speed float64
	User  types.ParticipantID
}

type PrepareVideoEvent struct {
	VideoID  types.VideoID
	Filename string
	User     types.ParticipantID
}

type ReadyProgressEvent struct {
	VideoID types.VideoID
	Ready   int
	Total   int
}

type AllReadyEvent struct {
	VideoID types.VideoID
}

type VideoUploadedEvent struct {
	VideoID    types.VideoID
	Filename   string
	Size       int64
	UploadedBy types.ParticipantID
}

type ProvideRandomClipEvent struct {
	RequestedBy types.ParticipantID
}

type SharedPoolChangedEvent struct {
	Enabled   bool
	ChangedBy types.ParticipantID
}

// ProgressEvent reports upload/download progress, throttled to at most
// twenty notifications per second (spec §4.G).
type ProgressEvent struct {
	VideoID types.VideoID
	Sent    int64
	Total   int64
}

type VideoReadyEvent struct {
	VideoID   types.VideoID
	LocalPath string
}
