package changelogbot

import (
	"context"
	"fmt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	apiPrefix        = "/api"
	apiHealthCheck   = "/healthz"
	apiPathStatus    = "/status"
	apiPathCommands  = "/commands"
	xRequestIDHeader = "X-Request-ID"
)

// API serves health and status endpoints for monitoring the bot
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Bot
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is returned by the status endpoint
type StatusResponse struct {
	StartedAt time.Time      `json:"started_at"`
	Uptime    string         `json:"uptime"`
	Discord   DiscordStatus  `json:"discord"`
	AI        AIStatus       `json:"ai"`
	Dispatch  DispatchStats  `json:"dispatch"`
	Commands  []string       `json:"commands"`
	Receive   ReceiveMethods `json:"receive"`
}

type DiscordStatus struct {
	Connected   bool   `json:"connected"`
	Username    string `json:"username"`
	Guilds      int64  `json:"guilds"`
	Connects    int64  `json:"connects"`
	Disconnects int64  `json:"disconnects"`
}

type AIStatus struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider"`
}

type ReceiveMethods struct {
	Gateway bool `json:"gateway"`
	Webhook bool `json:"webhook"`
}

// newAPI sets up the gin engine and HTTP server for the status API
func newAPI(b *Bot, config *APIConfig) (*API, error) {
	r := gin.New()
	api := &API{
		config: config,
		engine: r,
		logger: newComponentLogger("api", config.LogLevel),
		bot:    b,
	}

	tlsCfg, err := tlsConfig(config.SSL)
	if err != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", err)
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if b.config.Development {
			corsConfig.AllowOrigins = []string{"*"}
		} else {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen}
		}
	}

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	group := r.Group(apiPrefix)
	group.GET(apiPathStatus, api.status)
	group.GET(apiPathCommands, api.commands)

	return api, nil
}

// Serve listens on the configured address and serves until the server is
// shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving api", "listen", a.listener.Addr().String())
	if a.httpServer.TLSConfig == nil {
		return a.httpServer.Serve(a.listener)
	}
	return a.httpServer.ServeTLS(a.listener, "", "")
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (a *API) status(c *gin.Context) {
	c.JSON(http.StatusOK, a.bot.Status())
}

func (a *API) commands(c *gin.Context) {
	c.JSON(http.StatusOK, a.bot.registry.All())
}

// requestIDMiddleware assigns a ULID to each request, set in the gin
// context and the response header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := newID("req")
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	requestLogger := requestLogger(c, slog.Default())
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func requestLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	return base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
}

// ginLoggingMiddleware returns a Gin middleware function for logging HTTP
// requests, using the given logger as the base for each request's logger.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		logger := requestLogger(c, base)
		c.Set(string(loggerContextKey), logger)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if len(errs) > 0 {
			logger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		logger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}
