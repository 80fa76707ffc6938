package changelogbot

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const apiDiscordInteractions = "/discord/interactions"

var errWebhookResponseExpired = errors.New("webhook response window expired")

// DiscordWebhookServer receives interactions over HTTP, as an alternative
// to the gateway.
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

// Serve listens on the configured address and serves until the server is
// shut down.
func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	if d.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, d.config.ListenNetwork, d.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", d.config.Listen, err)
		}
		d.listener = ln
	}
	if d.httpServer.TLSConfig == nil {
		d.logger.Warn("starting server without TLS", "listen", d.listener.Addr().String())
		return d.httpServer.Serve(d.listener)
	}
	return d.httpServer.ServeTLS(d.listener, "", "")
}

// newWebhookServer creates and returns a new [DiscordWebhookServer], and/or
// any errors that occurred during creation.
func newWebhookServer(
	b *Bot,
	config DiscordWebhookServerConfig,
) (*DiscordWebhookServer, error) {
	r := gin.New()
	server := &DiscordWebhookServer{
		config: config,
		engine: r,
		logger: newComponentLogger("discord_webhook", config.LogLevel),
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	tlsCfg, err := tlsConfig(config.SSL)
	if err != nil {
		return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
	}
	httpServer.TLSConfig = tlsCfg
	server.httpServer = httpServer

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(server.logger),
		discordRequestAuthenticationMiddleware(b.discord.publicKey),
	)

	r.POST(apiDiscordInteractions, webhookReceiveHandler(b))
	return server, nil
}

// WebhookHandler is a handler for Discord interactions received via webhook.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
// The initial response is returned as the HTTP response body. Edits and
// follow-ups go through the REST API, as with the gateway.
//
//nolint:lll  // can't split link
type WebhookHandler struct {
	GatewayHandler

	mu        sync.Mutex
	responses chan *discordgo.InteractionResponse
	sent      bool
	expired   bool
}

func newWebhookHandler(gateway GatewayHandler) *WebhookHandler {
	return &WebhookHandler{
		GatewayHandler: gateway,
		responses:      make(chan *discordgo.InteractionResponse, 1),
	}
}

func (*WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

// Respond queues the response to be written to the webhook request. If
// the request was already acknowledged with a deferral (because the
// response didn't arrive in time), message responses are sent as an edit
// to the deferred response instead, and deferrals are a no-op.
func (w *WebhookHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sent {
		return ErrAlreadyResponded
	}
	w.sent = true
	if !w.expired {
		w.responses <- response
		return nil
	}

	// the request was already answered with a deferral, so a handler
	// deferring itself has nothing left to send
	if response.Type == discordgo.InteractionResponseDeferredChannelMessageWithSource {
		return nil
	}
	if response.Type != discordgo.InteractionResponseChannelMessageWithSource || response.Data == nil {
		return fmt.Errorf("%w: can't send response type %d", errWebhookResponseExpired, response.Type)
	}
	edit := &discordgo.WebhookEdit{
		Content:         &response.Data.Content,
		Embeds:          &response.Data.Embeds,
		AllowedMentions: response.Data.AllowedMentions,
	}
	_, err := w.GatewayHandler.Edit(ctx, edit)
	return err
}

// expire marks the response window as closed. It returns false if a
// response was already queued, in which case that response should be
// used.
func (w *WebhookHandler) expire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sent {
		return false
	}
	w.expired = true
	return true
}

// webhookReceiveHandler returns a [gin.HandlerFunc] for handling Discord
// webhook interactions. Interactions are dispatched in their own goroutine,
// tracked by the bot so shutdown can wait on them, while the request waits
// for the initial response.
func webhookReceiveHandler(b *Bot) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, _ := c.Get(xRequestIDHeader)
		logger := ginContextLogger(c).With(
			slog.Group(
				"webhook_request",
				"remote_addr", c.Request.RemoteAddr,
				"remote_ip", c.RemoteIP(),
				xRequestIDHeader, requestID,
			),
		)
		ctx := WithLogger(context.WithoutCancel(c.Request.Context()), logger)

		defer func() {
			_ = c.Request.Body.Close()
		}()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(ctx, "error getting raw data", tint.Err(err))
			c.JSON(http.StatusInternalServerError, httpError{Error: "error getting raw data"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(ctx, "error unmarshalling body", tint.Err(e))
			c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}

		handler := newWebhookHandler(b.gatewayHandler(&interaction))
		handler.logger = handler.logger.With(xRequestIDHeader, requestID)

		done := make(chan struct{})
		if !b.trackInteraction(
			func() {
				defer close(done)
				b.router.Dispatch(ctx, handler)
			},
		) {
			c.JSON(http.StatusServiceUnavailable, httpError{Error: "shutting down"})
			return
		}

		timeout := b.config.Discord.WebhookServer.ResponseTimeout
		if timeout <= 0 {
			timeout = DefaultDiscordWebhookResponseTimeout
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case resp := <-handler.responses:
			c.JSON(http.StatusOK, resp)
		case <-done:
			select {
			case resp := <-handler.responses:
				c.JSON(http.StatusOK, resp)
			default:
				logger.InfoContext(ctx, "interaction ignored, no response")
				c.Status(http.StatusNoContent)
			}
		case <-timer.C:
			if !handler.expire() {
				c.JSON(http.StatusOK, <-handler.responses)
				return
			}
			logger.WarnContext(ctx, "no response in time, deferring", "timeout", timeout)
			deferred := &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			}
			// modal confirmations are only shown to the submitter
			if interaction.Type == discordgo.InteractionModalSubmit {
				deferred.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
			}
			c.JSON(http.StatusOK, deferred)
		}
	}
}

// discordRequestAuthenticationMiddleware is a middleware for verifying Discord
// webhook requests.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if !verifyRequest(c.Request, publicKey) {
			logger.WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest verifies the authenticity of a Discord webhook request,
// by checking the ed25519 signature of the timestamp header and body. The
// body is restored so it can be read again.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}

	var msg bytes.Buffer

	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	msg.WriteString(timestamp)

	defer func() {
		_ = r.Body.Close()
	}()
	var body bytes.Buffer

	defer func() {
		r.Body = io.NopCloser(&body)
	}()

	_, err = io.Copy(&msg, io.TeeReader(r.Body, &body))
	if err != nil {
		return false
	}

	return ed25519.Verify(key, msg.Bytes(), sig)
}
