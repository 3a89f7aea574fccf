package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/adapters/hub"
	"github.com/dkeye/roomsync/internal/config"
)

const (
	tokenCookie = "ct"
	tokenKey    = "client_token"
)

// ClientTokenMiddleware gives every client a stable token. The signed session
// is the source of truth; the ct cookie carries the token for dialers that
// only send that one, and is restored from the session when it is missing.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		stored, _ := sess.Get(tokenKey).(string)

		token, _ := c.Cookie(tokenCookie)
		hasCookie := token != ""
		if !hasCookie {
			token = stored
		}
		if token == "" {
			token = uuid.NewString()
		}
		if token != stored {
			sess.Set(tokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Str("module", "adapters.http").Err(err).Msg("save session")
			}
		}
		if !hasCookie {
			c.SetCookie(tokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RoomsyncSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/notificationHub", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(tokenKey)).Msg("notification hub endpoint hit")
		h.Handle(ctx)(c)
	})
	r.GET("/whoami", func(c *gin.Context) {
		token, _ := sessions.Default(c).Get(tokenKey).(string)
		c.JSON(http.StatusOK, gin.H{tokenKey: token})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": h.Registry().Len(),
			"groups":      h.Registry().GroupCount(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
