package room

import "github.com/ukunda/rdm/internal/v1/types"

// Channel is the per-participant signaling transport a Room fans out
// through. The signaling package's websocket client implements it; tests
// use a lightweight in-memory fake. Grounded on the teacher's
// types.ClientInterface seam between room and transport.
type Channel interface {
	Send(v any) error
	Close(reason string)
}

// InboundAuth is the mandatory first signaling message (spec §4.E).
type InboundAuth struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// InboundPlayback covers play/pause/seek, all carrying a position fraction.
type InboundPlayback struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
}

// InboundSpeed sets the playback rate.
type InboundSpeed struct {
	Type  string  `json:"type"`
	Speed float64 `json:"speed"`
}

// InboundPlayVideo starts the ready-sync barrier for an uploaded video.
type InboundPlayVideo struct {
	Type    string `json:"type"`
	VideoID string `json:"video_id"`
}

// InboundReady reports that the sender finished downloading a video.
type InboundReady struct {
	Type    string `json:"type"`
	VideoID string `json:"video_id"`
}

// InboundKick is host-only; sender is checked against HostID by the Room.
type InboundKick struct {
	Type         string `json:"type"`
	TargetUserID string `json:"target_user_id"`
}

// InboundSetSharedPool is host-only.
type InboundSetSharedPool struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// InboundRequestRandom asks the shared pool for a random clip.
type InboundRequestRandom struct {
	Type string `json:"type"`
}

// InboundPing is answered with an outbound Pong.
type InboundPing struct {
	Type string `json:"type"`
}

// UserSummary is the {user_id, username} shape embedded in snapshots and
// join/leave broadcasts.
type UserSummary struct {
	UserID   types.ParticipantID `json:"user_id"`
	Username string              `json:"username"`
}

// VideoSummary is the {filename, size} shape embedded in the catalogue map.
type VideoSummary struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// PlaybackStateView is the wire shape of types.PlaybackState.
type PlaybackStateView struct {
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"`
	Speed    float64 `json:"speed"`
}

// Snapshot is the full room state sent on join and on signaling auth
// success (outbound room_state, spec §6).
type Snapshot struct {
	Users         []UserSummary                        `json:"users"`
	PlaybackState PlaybackStateView                     `json:"playback_state"`
	CurrentVideo  types.VideoID                         `json:"current_video"`
	HostID        types.ParticipantID                   `json:"host_id"`
	Videos        map[types.VideoID]VideoSummary        `json:"videos"`
}

// OutboundRoomState is the outbound room_state message.
type OutboundRoomState struct {
	Type string `json:"type"`
	Snapshot
}

// OutboundUserJoined is broadcast to every other channel when a channel
// authenticates (spec §4.E).
type OutboundUserJoined struct {
	Type     string              `json:"type"`
	UserID   types.ParticipantID `json:"user_id"`
	Username string              `json:"username"`
	Users    []UserSummary       `json:"users"`
}

// OutboundUserLeft is broadcast when a participant disconnects.
type OutboundUserLeft struct {
	Type     string              `json:"type"`
	UserID   types.ParticipantID `json:"user_id"`
	Username string              `json:"username"`
	Users    []UserSummary       `json:"users"`
}

// OutboundUserKicked is broadcast to the room after a kick succeeds.
type OutboundUserKicked struct {
	Type      string              `json:"type"`
	Username  string              `json:"username"`
	KickedBy  types.ParticipantID `json:"kicked_by"`
	Users     []UserSummary       `json:"users"`
}

// OutboundKicked is sent privately to the evicted participant.
type OutboundKicked struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OutboundPlayback mirrors play/pause/seek back out with attribution.
type OutboundPlayback struct {
	Type      string              `json:"type"`
	Position  float64             `json:"position"`
	User      types.ParticipantID `json:"user"`
	Timestamp int64               `json:"timestamp"`
}

// OutboundSpeed mirrors speed changes back out with attribution.
type OutboundSpeed struct {
	Type  string              `json:"type"`
	Speed float64             `json:"speed"`
	User  types.ParticipantID `json:"user"`
}

// OutboundPrepareVideo opens the ready-sync barrier for recipients.
type OutboundPrepareVideo struct {
	Type      string              `json:"type"`
	VideoID   types.VideoID       `json:"video_id"`
	Filename  string              `json:"filename"`
	User      types.ParticipantID `json:"user"`
	Timestamp int64               `json:"timestamp"`
}

// OutboundReadyProgress reports barrier progress after each ready message.
type OutboundReadyProgress struct {
	Type    string        `json:"type"`
	VideoID types.VideoID `json:"video_id"`
	Ready   int           `json:"ready"`
	Total   int           `json:"total"`
}

// OutboundAllReady commits the barrier to PLAYING.
type OutboundAllReady struct {
	Type    string        `json:"type"`
	VideoID types.VideoID `json:"video_id"`
}

// OutboundVideoUploaded announces a freshly accepted upload to everyone.
type OutboundVideoUploaded struct {
	Type       string              `json:"type"`
	VideoID    types.VideoID       `json:"video_id"`
	Filename   string              `json:"filename"`
	Size       int64               `json:"size"`
	UploadedBy types.ParticipantID `json:"uploaded_by"`
}

// OutboundProvideRandomClip directs a chosen participant to supply a clip.
type OutboundProvideRandomClip struct {
	Type        string              `json:"type"`
	RequestedBy types.ParticipantID `json:"requested_by"`
}

// OutboundSharedPoolChanged announces a shared-pool toggle.
type OutboundSharedPoolChanged struct {
	Type      string              `json:"type"`
	Enabled   bool                `json:"enabled"`
	ChangedBy types.ParticipantID `json:"changed_by"`
}

// OutboundPong answers an InboundPing.
type OutboundPong struct {
	Type string `json:"type"`
}

// OutboundError is the closed-taxonomy error representation on the channel
// (spec §7 "channel error").
type OutboundError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
