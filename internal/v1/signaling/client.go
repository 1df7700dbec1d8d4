// Package signaling implements the Signaling Channel (spec §4.E): the
// websocket transport that carries the auth handshake and the inbound
// and outbound message types a Room's operations drive. Grounded on the
// teacher's transport.Client (wsConnection seam, readPump/writePump over
// buffered channels, closeOnce-guarded shutdown), generalized from binary
// protobuf framing to the JSON tagged-sum wire protocol this domain uses.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ukunda/rdm/internal/v1/apperr"
	"github.com/ukunda/rdm/internal/v1/authtoken"
	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/metrics"
	"github.com/ukunda/rdm/internal/v1/room"
	"github.com/ukunda/rdm/internal/v1/types"
)

const (
	writeWait            = 10 * time.Second
	authHandshakeTimeout = 10 * time.Second
	sendBufferSize       = 256
)

// wsConn is the subset of *websocket.Conn a Client needs. The same seam
// the teacher draws around gorilla's connection type, so tests can drive
// a Client against an in-memory fake instead of a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Client is one participant's live websocket connection. It implements
// room.Channel.
type Client struct {
	conn          wsConn
	room          *room.Room
	minter        *authtoken.Minter
	participantID types.ParticipantID

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(conn wsConn, r *room.Room, minter *authtoken.Minter) *Client {
	return &Client{
		conn:   conn,
		room:   r,
		minter: minter,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Send marshals v and queues it for delivery. A full buffer or a closed
// channel reports an error rather than blocking the caller, which is
// usually a Room holding its own lock (the handshake and the ping and
// error replies also call it directly).
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("signaling: send on closed channel")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("signaling: send buffer full")
	}
}

// Close ends the channel. Safe to call more than once or concurrently
// with Send: both take c.mu and agree on the closed flag, so there is no
// send-on-closed-channel race.
func (c *Client) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	ctx := logging.WithParticipantID(logging.WithRoomCode(context.Background(), string(c.room.Code())), string(c.participantID))
	logging.Info(ctx, "signaling channel closed", zap.String("reason", reason))
}

// writePump drains send and writes each message with a bounded deadline,
// sending a close frame once the channel is closed and drained.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump performs the handshake, then dispatches every subsequent
// message until the connection errors or closes, leaving the room on the
// way out (spec §4.E "disconnect without an explicit leave message still
// triggers leave").
func (c *Client) readPump() {
	defer func() {
		metrics.DecConnection()
		if c.participantID != "" {
			if err := c.room.Leave(c.participantID); err != nil {
				logging.Warn(context.Background(), "leave on disconnect failed", zap.Error(err))
			}
		}
		c.Close("connection closed")
	}()

	if err := c.handshake(); err != nil {
		logging.Warn(context.Background(), "signaling handshake failed", zap.Error(err))
		return
	}
	metrics.IncConnection()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(data)
	}
}

// handshake enforces the spec's ten-second auth deadline: the first
// message must be {"type":"auth", user_id, username}, where user_id is
// the signed token minted at create/join time rather than a bare
// identifier a client could forge (spec §3 "participant token"). The
// claims inside it, not the wire string, name the participant that gets
// attached to the room.
func (c *Client) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(authHandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return apperr.Wrap(apperr.KindTimeout, "auth handshake timed out", err)
	}

	var auth room.InboundAuth
	if jsonErr := json.Unmarshal(data, &auth); jsonErr != nil || auth.Type != "auth" || auth.UserID == "" {
		authErr := apperr.New(apperr.KindAuthFailure, "first message must be an auth handshake")
		_ = c.Send(room.OutboundError{Type: "error", Message: authErr.Message})
		return authErr
	}

	claims, err := c.minter.Verify(auth.UserID, c.room.Code())
	if err != nil {
		authErr := apperr.Wrap(apperr.KindAuthFailure, "invalid participant token", err)
		_ = c.Send(room.OutboundError{Type: "error", Message: authErr.Message})
		return authErr
	}

	participantID := types.ParticipantID(claims.ParticipantID)
	snapshot, err := c.room.Attach(participantID, c)
	if err != nil {
		c.replyError(err)
		return err
	}
	c.participantID = participantID
	c.conn.SetReadDeadline(time.Time{})

	return c.Send(room.OutboundRoomState{Type: "room_state", Snapshot: snapshot})
}

type inboundEnvelope struct {
	Type string `json:"type"`
}

// dispatch decodes data's discriminator and routes it to the matching
// Room operation, translating any returned error into an outbound error
// reply addressed to this same channel (spec §7 "channel error").
func (c *Client) dispatch(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.replyError(apperr.New(apperr.KindMalformedInput, "malformed message"))
		return
	}

	start := time.Now()
	err := c.route(env.Type, data)
	metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		c.replyError(err)
	}
	metrics.SignalingEvents.WithLabelValues(env.Type, status).Inc()
}

func (c *Client) route(msgType string, data []byte) error {
	switch msgType {
	case "play", "pause", "seek":
		var msg room.InboundPlayback
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.New(apperr.KindMalformedInput, "malformed playback message")
		}
		return c.room.ApplyPlayback(msgType, msg.Position, c.participantID)

	case "speed":
		var msg room.InboundSpeed
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.New(apperr.KindMalformedInput, "malformed speed message")
		}
		return c.room.ApplySpeed(msg.Speed, c.participantID)

	case "play_video":
		var msg room.InboundPlayVideo
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.New(apperr.KindMalformedInput, "malformed play_video message")
		}
		return c.room.ShareVideo(types.VideoID(msg.VideoID), c.participantID)

	case "ready":
		var msg room.InboundReady
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.New(apperr.KindMalformedInput, "malformed ready message")
		}
		c.room.MarkReady(c.participantID, types.VideoID(msg.VideoID))
		return nil

	case "kick":
		var msg room.InboundKick
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.New(apperr.KindMalformedInput, "malformed kick message")
		}
		return c.room.Kick(c.participantID, types.ParticipantID(msg.TargetUserID))

	case "set_shared_pool":
		var msg room.InboundSetSharedPool
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.New(apperr.KindMalformedInput, "malformed set_shared_pool message")
		}
		return c.room.SetSharedPool(c.participantID, msg.Enabled)

	case "request_random":
		return c.room.RequestRandom(c.participantID)

	case "ping":
		return c.Send(room.OutboundPong{Type: "pong"})

	default:
		return apperr.New(apperr.KindMalformedInput, "unknown message type")
	}
}

func (c *Client) replyError(err error) {
	message := "internal error"
	if ae, ok := apperr.As(err); ok {
		message = ae.Message
	}
	_ = c.Send(room.OutboundError{Type: "error", Message: message})
}
