package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

func (h *Hub) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				h.logger.Debug().Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := h.write(c, websocket.TextMessage, data); err != nil {
				h.logger.Warn().Err(err).Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				h.logger.Warn().Err(err).Str("conn", string(c.id)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (h *Hub) write(c *Conn, typ int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(typ, data)
}

// readPump returns when the peer is gone or the connection was closed.
func (h *Hub) readPump(c *Conn) {
	pongWait := h.cfg.PingPeriod * 2
	c.ws.SetReadLimit(h.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.handle(c, data)
	}
}
