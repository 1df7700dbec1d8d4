package signaling

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ukunda/rdm/internal/v1/authtoken"
	"github.com/ukunda/rdm/internal/v1/logging"
	"github.com/ukunda/rdm/internal/v1/registry"
	"github.com/ukunda/rdm/internal/v1/types"
)

// upgrader accepts any origin: the HTTP Surface's own CORS policy, not
// the websocket handshake, is this server's origin boundary (spec §4.D).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub upgrades HTTP connections into signaling Clients attached to the
// room named by the request path. Grounded on the teacher's
// transport.Hub, stripped of its JWT/origin/SFU plumbing since room
// membership here is established by the auth handshake message instead
// of a bearer token on the upgrade request.
type Hub struct {
	registry *registry.Registry
	minter   *authtoken.Minter
}

// NewHub builds a Hub backed by reg, verifying handshake tokens with minter.
func NewHub(reg *registry.Registry, minter *authtoken.Minter) *Hub {
	return &Hub{registry: reg, minter: minter}
}

// ServeWS is the gin handler for the websocket upgrade endpoint (spec
// §4.D "GET /rooms/{code}/ws").
func (h *Hub) ServeWS(c *gin.Context) {
	code := types.RoomCode(c.Param("code"))
	r, ok := h.registry.Lookup(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, r, h.minter)
	go client.writePump()
	client.readPump()
}
