// Package wsconn dials the notification relay over gorilla/websocket.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/app/notify"
)

type Dialer struct {
	url       string
	header    http.Header
	readLimit int64
	dialer    *websocket.Dialer
}

func New(url string, readLimit int64) *Dialer {
	return &Dialer{
		url:       url,
		header:    http.Header{},
		readLimit: readLimit,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// WithCookie sends the client token cookie so the relay keeps the same identity.
func (d *Dialer) WithCookie(token string) *Dialer {
	d.header.Set("Cookie", "ct="+token)
	return d
}

func (d *Dialer) Dial(ctx context.Context) (notify.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	if d.readLimit > 0 {
		ws.SetReadLimit(d.readLimit)
	}
	log.Debug().Str("module", "adapters.wsconn").Str("url", d.url).Msg("dialed relay")
	return ws, nil
}
