package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "HuddleSessions"
	userKey     = "user_id"
)

// IdentityMiddleware resolves the caller from a bearer token, or from the
// cookie session when dev sessions are enabled. It never rejects requests
// without identity; handlers that need one call currentUser.
func IdentityMiddleware(authn auth.Authenticator, devSessions bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			uid, err := authn.Verify(c.Request.Context(), strings.TrimPrefix(h, "Bearer "), "")
			if err != nil {
				writeError(c, err)
				c.Abort()
				return
			}
			c.Set(userKey, uid)
		} else if devSessions {
			if v, ok := sessions.Default(c).Get(userKey).(string); ok && v != "" {
				c.Set(userKey, domain.UserID(v))
			}
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		writeError(c, auth.ErrUnauthenticated)
		return "", false
	}
	return v.(domain.UserID), true
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Debug() {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cfg.ResolveSecret()
	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	devSessions := !cfg.Auth.Required
	tokens, ok := o.Auth.(auth.Issuer)
	if !ok {
		tokens = auth.NewJWTAuthenticator(cfg.Secret)
	}
	h := &handlers{orch: o, cfg: cfg, tokens: tokens}
	ctrl := signal.NewSignalWSController(o, cfg)

	api := r.Group("/api")
	api.Use(IdentityMiddleware(o.Auth, devSessions))

	api.GET("/healthz", h.health)
	api.GET("/ice-servers", h.iceServers)
	if devSessions {
		api.POST("/session", h.login)
		api.DELETE("/session", h.logout)
	}

	rooms := api.Group("/rooms")
	rooms.GET("", h.listRooms)
	rooms.POST("", h.createRoom)
	rooms.GET("/random", h.randomRoom)
	rooms.GET("/:id", h.getRoom)
	rooms.PATCH("/:id", h.updateRoom)
	rooms.DELETE("/:id", h.deleteRoom)
	rooms.POST("/:id/join", h.requestJoin)
	rooms.POST("/:id/leave", h.leaveRoom)
	rooms.POST("/:id/waiting/:userId/approve", h.approveJoin)
	rooms.DELETE("/:id/waiting/:userId", h.rejectJoin)
	rooms.DELETE("/:id/members/:userId", h.removeMember)

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("dev_sessions", devSessions).Msg("router setup")
	return r
}
