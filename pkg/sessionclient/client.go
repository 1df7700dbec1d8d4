// Package sessionclient is the peer-side coordinator of spec §4.G: it
// drives the HTTP create/join calls, owns the signaling channel's
// lifecycle, reconnection, ping loop, and echo suppression, and exposes a
// typed Event stream for an embedding UI (the out-of-scope media player
// window) to consume. It never touches a socket on the UI's behalf — the
// UI drives SendXxx methods and ranges over Events().
//
// Grounded on the server's own internal/v1/signaling package for the wire
// protocol and on gorilla/websocket's client dialer for the transport,
// the same package the server uses for the other end of the connection.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/ukunda/rdm/internal/v1/room"
	"github.com/ukunda/rdm/internal/v1/types"
)

const (
	pingInterval             = 5 * time.Second
	maxReconnectAttempts     = 5
	reconnectInitialInterval = 2 * time.Second
	reconnectMaxInterval     = 30 * time.Second
	reconnectDialTimeout     = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	// BaseURL is the HTTP origin the server's httpapi router is mounted
	// on, e.g. "http://localhost:8765". The signaling dialer derives its
	// ws(s):// origin from it.
	BaseURL string
	// HTTPClient is used for every create/join/upload/download call. A
	// client with a sane timeout is constructed if nil.
	HTTPClient *http.Client
	// ClipLibraryDir is scanned for a random local clip when this peer is
	// chosen to fulfil a shared-pool request.
	ClipLibraryDir string
	// DownloadDir is where downloaded videos are cached by video id.
	DownloadDir string
}

// Client is the Session Client. All exported methods are safe for
// concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	clipDir     string
	downloadDir string

	events chan Event

	mu           sync.Mutex
	conn         *websocket.Conn
	roomCode     types.RoomCode
	password     string
	username     string
	userID       string
	ignoreRemote bool
	closed       bool
	lastPingSent time.Time
	localPaths   map[types.VideoID]string

	writeMu sync.Mutex
	closing chan struct{}
}

// New builds a Client against cfg. It does not dial anything; call
// CreateRoom or JoinRoom to open a session.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		clipDir:     cfg.ClipLibraryDir,
		downloadDir: cfg.DownloadDir,
		events:      make(chan Event, 256),
		closing:     make(chan struct{}),
		localPaths:  make(map[types.VideoID]string),
	}
}

// Events returns the channel an embedding UI should range over.
func (c *Client) Events() <-chan Event {
	return c.events
}

type createRoomResponse struct {
	RoomCode types.RoomCode      `json:"room_code"`
	UserID   string              `json:"user_id"`
	HostID   types.ParticipantID `json:"host_id"`
}

// CreateRoom POSTs /rooms, then opens and authenticates the signaling
// channel for the freshly created room.
func (c *Client) CreateRoom(ctx context.Context, password, username string) (types.RoomCode, error) {
	var result createRoomResponse
	if err := c.postJSON(ctx, "/rooms", map[string]string{"password": password, "username": username}, &result); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.roomCode = result.RoomCode
	c.password = password
	c.username = username
	c.userID = result.UserID
	c.mu.Unlock()

	if err := c.dialAndAuth(ctx); err != nil {
		return "", err
	}
	go c.readLoop()
	go c.pingLoop()
	return result.RoomCode, nil
}

type joinRoomResponse struct {
	UserID string `json:"user_id"`
}

// JoinRoom POSTs /rooms/{code}/join, then opens and authenticates the
// signaling channel for that room.
func (c *Client) JoinRoom(ctx context.Context, roomCode types.RoomCode, password, username string) error {
	var result joinRoomResponse
	if err := c.postJSON(ctx, "/rooms/"+string(roomCode)+"/join", map[string]string{"password": password, "username": username}, &result); err != nil {
		return err
	}

	c.mu.Lock()
	c.roomCode = roomCode
	c.password = password
	c.username = username
	c.userID = result.UserID
	c.mu.Unlock()

	if err := c.dialAndAuth(ctx); err != nil {
		return err
	}
	go c.readLoop()
	go c.pingLoop()
	return nil
}

// Close performs a client-initiated disconnect: it cancels the ping loop
// and any in-flight reconnect timer before closing the channel (spec
// §5's cancellation ordering).
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.closing)
	if conn != nil {
		conn.Close()
	}
}

// ApplyRemote raises ignore_remote for the duration of fn, the single
// boolean flag spec §4.G describes for suppressing the local media
// controller's own change notification while a remote-sourced event is
// being applied. The embedding UI calls this around its own handling of
// Playback/Speed events, then checks IgnoringRemote before re-sending a
// local change it did not itself originate.
func (c *Client) ApplyRemote(fn func()) {
	c.mu.Lock()
	c.ignoreRemote = true
	c.mu.Unlock()

	fn()

	c.mu.Lock()
	c.ignoreRemote = false
	c.mu.Unlock()
}

// IgnoringRemote reports whether a remote-sourced event is currently
// being applied.
func (c *Client) IgnoringRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignoreRemote
}

// LocalPath returns the cached local path for videoID, if downloaded or
// uploaded by this client already.
func (c *Client) LocalPath(videoID types.VideoID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.localPaths[videoID]
	return p, ok
}

func (c *Client) currentRoomCode() types.RoomCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

func (c *Client) currentUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.closing:
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rooms/" + string(c.currentRoomCode()) + "/ws"
	return u.String(), nil
}

func (c *Client) dialAndAuth(ctx context.Context) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	auth := room.InboundAuth{Type: "auth", UserID: c.currentUserID(), Username: c.username}
	if err := c.writeJSON(auth); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			manual := c.closed
			c.mu.Unlock()
			if manual {
				return
			}
			c.emit(Event{Type: EventDisconnected, Err: err})
			go c.reconnectLoop()
			return
		}
		c.handleInbound(data)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.lastPingSent = time.Now()
			c.mu.Unlock()
			if err := c.writeJSON(room.InboundPing{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (c *Client) recordPong() {
	c.mu.Lock()
	sentAt := c.lastPingSent
	c.mu.Unlock()
	if sentAt.IsZero() {
		return
	}
	c.emit(Event{Type: EventLatency, Latency: time.Since(sentAt)})
}

// rejoinAndDial re-POSTs the join endpoint with the remembered password
// and username and reopens the channel, per spec §4.G's reconnection
// policy. The participant id changes across reconnects; username and
// room membership are restored.
func (c *Client) rejoinAndDial(ctx context.Context) error {
	c.mu.Lock()
	code := c.roomCode
	password := c.password
	username := c.username
	c.mu.Unlock()

	var result joinRoomResponse
	if err := c.postJSON(ctx, "/rooms/"+string(code)+"/join", map[string]string{"password": password, "username": username}, &result); err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = result.UserID
	c.mu.Unlock()

	return c.dialAndAuth(ctx)
}

// reconnectLoop implements spec §4.G/§5's exact backoff schedule (2, 4,
// 8, 16, 30 seconds; max five attempts), backed by cenkalti/backoff/v5's
// exponential interval computation instead of hand-rolled doubling.
func (c *Client) reconnectLoop() {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(reconnectInitialInterval),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(reconnectMaxInterval),
		backoff.WithRandomizationFactor(0),
	)
	b.Reset()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		select {
		case <-c.closing:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), reconnectDialTimeout)
		err := c.rejoinAndDial(ctx)
		cancel()

		if err == nil {
			c.emit(Event{Type: EventReconnected})
			go c.readLoop()
			go c.pingLoop()
			return
		}
		if isNotFound(err) {
			c.emit(Event{Type: EventDisconnected, Err: err})
			return
		}
	}
	c.emit(Event{Type: EventDisconnected, Err: errReconnectExhausted})
}

func (c *Client) handleInbound(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return
	}

	switch head.Type {
	case "room_state":
		var msg room.OutboundRoomState
		if json.Unmarshal(data, &msg) == nil {
			snap := msg.Snapshot
			c.emit(Event{Type: EventRoomState, RoomState: &snap})
			if snap.CurrentVideo != "" {
				go c.DownloadVideo(context.Background(), snap.CurrentVideo, nil)
			}
		}
	case "user_joined":
		var msg room.OutboundUserJoined
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventUserJoined, UserJoined: &UserChangeEvent{UserID: msg.UserID, Username: msg.Username, Users: msg.Users}})
		}
	case "user_left":
		var msg room.OutboundUserLeft
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventUserLeft, UserLeft: &UserChangeEvent{UserID: msg.UserID, Username: msg.Username, Users: msg.Users}})
		}
	case "user_kicked":
		var msg room.OutboundUserKicked
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventUserKicked, UserKicked: &UserKickedEvent{Username: msg.Username, KickedBy: msg.KickedBy, Users: msg.Users}})
		}
	case "kicked":
		var msg room.OutboundKicked
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventKicked, Kicked: &KickedEvent{Message: msg.Message}})
		}
		c.Close()
	case "play", "pause", "seek":
		var msg room.OutboundPlayback
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventPlayback, Playback: &PlaybackEvent{Kind: head.Type, Position: msg.Position, User: msg.User}})
		}
	case "speed":
		var msg room.OutboundSpeed
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventSpeed, Speed: &SpeedEvent{Speed: msg.Speed, User: msg.User}})
		}
	case "prepare_video":
		var msg room.OutboundPrepareVideo
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventPrepareVideo, PrepareVideo: &PrepareVideoEvent{VideoID: msg.VideoID, Filename: msg.Filename, User: msg.User}})
		}
	case "ready_progress":
		var msg room.OutboundReadyProgress
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventReadyProgress, ReadyProgress: &ReadyProgressEvent{VideoID: msg.VideoID, Ready: msg.Ready, Total: msg.Total}})
		}
	case "all_ready":
		var msg room.OutboundAllReady
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventAllReady, AllReady: &AllReadyEvent{VideoID: msg.VideoID}})
		}
	case "video_uploaded":
		var msg room.OutboundVideoUploaded
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventVideoUploaded, VideoUploaded: &VideoUploadedEvent{VideoID: msg.VideoID, Filename: msg.Filename, Size: msg.Size, UploadedBy: msg.UploadedBy}})
		}
	case "provide_random_clip":
		var msg room.OutboundProvideRandomClip
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventProvideRandomClip, ProvideRandomClip: &ProvideRandomClipEvent{RequestedBy: msg.RequestedBy}})
			go c.provideRandomClip()
		}
	case "shared_pool_changed":
		var msg room.OutboundSharedPoolChanged
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventSharedPoolChanged, SharedPoolChanged: &SharedPoolChangedEvent{Enabled: msg.Enabled, ChangedBy: msg.ChangedBy}})
		}
	case "pong":
		c.recordPong()
	case "error":
		var msg room.OutboundError
		if json.Unmarshal(data, &msg) == nil {
			c.emit(Event{Type: EventChannelError, Err: errors.New(msg.Message)})
		}
	}
}

// SendPlay, SendPause and SendSeek all carry a position fraction in [0,1].
func (c *Client) SendPlay(position float64) error {
	return c.writeJSON(room.InboundPlayback{Type: "play", Position: position})
}

func (c *Client) SendPause(position float64) error {
	return c.writeJSON(room.InboundPlayback{Type: "pause", Position: position})
}

func (c *Client) SendSeek(position float64) error {
	return c.writeJSON(room.InboundPlayback{Type: "seek", Position: position})
}

func (c *Client) SendSpeed(speed float64) error {
	return c.writeJSON(room.InboundSpeed{Type: "speed", Speed: speed})
}

// SendPlayVideo opens the ready-sync barrier for videoID.
func (c *Client) SendPlayVideo(videoID types.VideoID) error {
	return c.writeJSON(room.InboundPlayVideo{Type: "play_video", VideoID: string(videoID)})
}

func (c *Client) SendReady(videoID types.VideoID) error {
	return c.writeJSON(room.InboundReady{Type: "ready", VideoID: string(videoID)})
}

func (c *Client) SendKick(target types.ParticipantID) error {
	return c.writeJSON(room.InboundKick{Type: "kick", TargetUserID: string(target)})
}

func (c *Client) SendSetSharedPool(enabled bool) error {
	return c.writeJSON(room.InboundSetSharedPool{Type: "set_shared_pool", Enabled: enabled})
}

func (c *Client) SendRequestRandom() error {
	return c.writeJSON(room.InboundRequestRandom{Type: "request_random"})
}
