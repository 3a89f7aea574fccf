package hub

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and serves it until ctx ends. The client token
// is taken from the gin context key set by the router middleware.
func (h *Hub) Handle(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.GetString("client_token")
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error().Err(err).Str("client", client).Msg("ws upgrade")
			return
		}
		h.Serve(ctx, ws, client)
	}
}
