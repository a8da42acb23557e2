// Package httpapi exposes the gateway's small HTTP surface: the WebSocket
// upgrade endpoint and a health check. Everything else the gateway does
// happens over the upgraded connection, handled by internal/session and
// internal/protocol.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streamspace-dev/phoenixbridge/internal/channel"
	"github.com/streamspace-dev/phoenixbridge/internal/logger"
	"github.com/streamspace-dev/phoenixbridge/internal/protocol"
	"github.com/streamspace-dev/phoenixbridge/internal/session"
)

// Handler owns the router dependencies: the routing-table controller, the
// dispatcher it builds per connection, and the upgrader.
type Handler struct {
	ctl      *channel.Controller
	dispatch dispatcherFactory
	upgrader websocket.Upgrader
}

// dispatcherFactory builds a fresh Dispatcher bound to a specific
// connection's relay supervisor. Each connection gets its own Dispatcher
// because RelayStarter is per-connection (the session), not global.
type dispatcherFactory func(relay protocol.RelayStarter) *protocol.Dispatcher

// NewHandler builds an httpapi.Handler. newDispatcher is typically
// `func(r protocol.RelayStarter) *protocol.Dispatcher { return
// protocol.NewDispatcher(ctl, bus, jwtSecret, r) }`, built by the caller so
// this package doesn't need to import internal/bus or know the JWT secret.
func NewHandler(ctl *channel.Controller, newDispatcher func(protocol.RelayStarter) *protocol.Dispatcher) *Handler {
	return &Handler{
		ctl:      ctl,
		dispatch: newDispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Gateway is meant to sit behind a trusted edge; origin
				// checks belong there, not in this protocol bridge.
				return true
			},
		},
	}
}

// RegisterRoutes wires the upgrade endpoint and health check onto router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.handleHealth)
	router.GET("/ws", h.handleUpgrade)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleUpgrade(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.HTTP().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(conn, h.ctl)
	dispatcher := h.dispatch(sess)
	sess.Run(c.Request.Context(), dispatcher)
}
