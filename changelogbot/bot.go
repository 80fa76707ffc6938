package changelogbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/habibrodriguez7-art/changelog-bot/changelogbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var errShutdownDeadline = errors.New("in-flight interactions did not finish before the shutdown deadline")

// Bot is the changelog bot. It owns the discord session, the command
// registry, the AI and changelog services, the interaction router and
// the optional HTTP servers.
type Bot struct {
	config    *Config
	logger    *slog.Logger
	registry  *CommandRegistry
	discord   *Discord
	ai        *AIService
	changelog *ChangelogComposer
	router    *Router

	api           *API
	webhookServer *DiscordWebhookServer

	// interactions tracks in-flight dispatches. accepting is guarded by
	// interactionMu, so no dispatch is added after shutdown starts waiting.
	interactions  sync.WaitGroup
	interactionMu sync.RWMutex
	accepting     bool

	sessionOpen atomic.Bool
	startedAt   time.Time
	runMu       sync.Mutex
}

// New creates a new Bot from the given config. No connections are made
// until Run is called.
func New(ctx context.Context, config *Config) (*Bot, error) {
	if config == nil {
		return nil, fmt.Errorf("config: %w", ErrConfigurationMissing)
	}

	var errs []error
	if config.Discord == nil {
		errs = append(errs, fmt.Errorf("discord config: %w", ErrConfigurationMissing))
	}
	if config.AI == nil {
		errs = append(errs, fmt.Errorf("ai config: %w", ErrConfigurationMissing))
	}
	if config.Changelog == nil {
		errs = append(errs, fmt.Errorf("changelog config: %w", ErrConfigurationMissing))
	}
	if config.API == nil {
		errs = append(errs, fmt.Errorf("api config: %w", ErrConfigurationMissing))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.LogLevel == nil {
		config.LogLevel = &slog.LevelVar{}
	}

	b := &Bot{config: config}
	b.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)
	slog.SetDefault(b.logger)

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	discordgoLevel := config.Discord.DiscordGoLogLevel
	if discordgoLevel == nil {
		discordgoLevel = &slog.LevelVar{}
		discordgoLevel.Set(DefaultDiscordgoLogLevel)
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     discordgoLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	registry, err := NewCommandRegistry(DefaultCommands()...)
	if err != nil {
		errs = append(errs, err)
	}
	b.registry = registry

	disc, err := newDiscord(config.Discord)
	if err != nil {
		return nil, errors.Join(append(errs, err)...)
	}
	session, err := disc.newSession(config.HTTPClient)
	if err != nil {
		return nil, errors.Join(append(errs, err)...)
	}
	disc.session = session
	b.discord = disc

	aiService, err := NewAIService(ctx, config.AI, config.HTTPClient)
	if err != nil {
		errs = append(errs, err)
	}
	b.ai = aiService

	composer, err := NewChangelogComposer(session, config.Changelog)
	if err != nil {
		errs = append(errs, err)
	}
	b.changelog = composer

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	b.router = NewRouter(registry, aiService, composer)

	if config.API.Enabled {
		api, apiErr := newAPI(b, config.API)
		if apiErr != nil {
			errs = append(errs, apiErr)
		}
		b.api = api
	}
	if config.Discord.WebhookServer.Enabled {
		server, whErr := newWebhookServer(b, config.Discord.WebhookServer)
		if whErr != nil {
			errs = append(errs, whErr)
		}
		b.webhookServer = server
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b, nil
}

// ValidateConfig validates the bot's configuration
func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Registry returns the bot's command registry
func (b *Bot) Registry() *CommandRegistry {
	return b.registry
}

// setSession replaces the discord session used by the bot and the
// changelog composer.
func (b *Bot) setSession(session DiscordSessionHandler) {
	b.discord.session = session
	b.changelog.session = session
}

// RegisterSlashCommands overwrites the application's slash commands with
// the commands in the registry. Commands are registered to the configured
// guild, or globally if no guild is configured.
func (b *Bot) RegisterSlashCommands(
	ctx context.Context,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	token := b.config.Discord.Token
	if token == "" || isPlaceholder(token) {
		return nil, fmt.Errorf("discord token: %w", ErrConfigurationMissing)
	}
	return b.discord.registerCommands(ctx, b.registry, options...)
}

// Run connects to discord and starts the configured servers, then blocks
// until the context is canceled or a server fails, after which the bot
// shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	b.interactionMu.Lock()
	b.accepting = true
	b.interactionMu.Unlock()

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	servers, serversCtx := errgroup.WithContext(ctx)
	if b.api != nil {
		servers.Go(
			func() error {
				return serverError("api", b.api.Serve(serversCtx))
			},
		)
	}
	if b.webhookServer != nil {
		servers.Go(
			func() error {
				return serverError("webhook server", b.webhookServer.Serve(serversCtx))
			},
		)
	}

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing discord session...")
		initErr <- b.initDiscordSession(startCtx, ctx)
	}()

	select {
	case <-startCtx.Done():
		err := fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return errors.Join(err, b.shutdown(ctx), servers.Wait())
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return errors.Join(err, b.shutdown(ctx), servers.Wait())
		}
		logger.InfoContext(ctx, "init complete")
	}

	// block until the runtime context is canceled (generally from an
	// interrupt), or one of the servers fails
	<-serversCtx.Done()

	shutdownErr := b.shutdown(ctx)
	return errors.Join(servers.Wait(), shutdownErr)
}

func serverError(name string, err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("error serving %s: %w", name, err)
}

// initDiscordSession adds the gateway event handlers, opens the gateway
// connection and, if configured, registers slash commands. startCtx
// bounds startup, runCtx is the bot's runtime context.
func (b *Bot) initDiscordSession(startCtx context.Context, runCtx context.Context) error {
	disc := b.discord
	session := disc.session

	for _, h := range disc.discordgoRemoveHandlerFuncs {
		h()
	}

	session.SetIdentify(discordgo.Identify{Intents: b.config.Discord.GatewayIntents})

	// dispatches outlive the runtime context, so shutdown can wait on
	// them instead of canceling them
	dispatchCtx := context.WithoutCancel(runCtx)

	disc.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(disc.handlerConnect()),
		session.AddHandler(disc.handlerDisconnect()),
		session.AddHandler(disc.handlerReady()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.gatewayHandler(i)
				if !b.trackInteraction(
					func() {
						b.router.Dispatch(dispatchCtx, handler)
					},
				) {
					handler.Logger().Warn("shutting down, dropping interaction")
				}
			},
		),
	}

	if err := session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	b.sessionOpen.Store(true)

	if b.config.Discord.RegisterCommandsOnStart {
		if _, err := disc.registerCommands(startCtx, b.registry); err != nil {
			return fmt.Errorf("error registering commands: %w", err)
		}
	}
	return nil
}

// gatewayHandler returns a GatewayHandler for the given interaction
func (b *Bot) gatewayHandler(i *discordgo.InteractionCreate) GatewayHandler {
	return GatewayHandler{
		session:     b.discord.session,
		interaction: i,
		logger: b.logger.With(
			slog.Group(
				"interaction",
				interactionLogAttrs(*i)...,
			),
		),
	}
}

// trackInteraction runs fn in a new goroutine, tracked so shutdown can
// wait on it. It returns false without running fn if the bot isn't
// accepting interactions.
func (b *Bot) trackInteraction(fn func()) bool {
	b.interactionMu.RLock()
	defer b.interactionMu.RUnlock()
	if !b.accepting {
		return false
	}
	b.interactions.Add(1)
	go func() {
		defer b.interactions.Done()
		fn()
	}()
	return true
}

// shutdown stops accepting interactions, waits for in-flight interactions
// (up to the shutdown timeout), then closes the servers and the discord
// session.
func (b *Bot) shutdown(ctx context.Context) error {
	logger := b.logger
	logger.WarnContext(ctx, "shutting down")

	b.interactionMu.Lock()
	b.accepting = false
	b.interactionMu.Unlock()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(b.config.ShutdownTimeout)
	logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", b.config.ShutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	var errs []error

	interactionsDone := make(chan struct{})
	go func() {
		b.interactions.Wait()
		close(interactionsDone)
	}()
	select {
	case <-interactionsDone:
		stopped := time.Now()
		logger.InfoContext(
			ctx,
			"finished handling in-flight interactions",
			"shutdown_started", shutdownStart,
			"runtime_stopped", stopped,
			"runtime_stop_duration", stopped.Sub(shutdownStart),
		)
	case <-closeCtx.Done():
		logger.ErrorContext(ctx, "shutdown deadline exceeded", tint.Err(errShutdownDeadline))
		errs = append(errs, errShutdownDeadline)
	}

	var errMu sync.Mutex
	addErr := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		errs = append(errs, err)
	}

	stopWG := &sync.WaitGroup{}
	stopServer := func(name string, srv *http.Server) {
		defer stopWG.Done()
		if err := srv.Shutdown(closeCtx); err != nil {
			logger.ErrorContext(ctx, "error shutting down "+name, tint.Err(err))
			if closeErr := srv.Close(); closeErr != nil {
				addErr(closeErr)
			}
		}
	}
	if b.api != nil {
		stopWG.Add(1)
		go stopServer("api", b.api.httpServer)
	}
	if b.webhookServer != nil {
		stopWG.Add(1)
		go stopServer("webhook server", b.webhookServer.httpServer)
	}
	if b.sessionOpen.Load() {
		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			if err := b.discord.session.Close(); err != nil {
				logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
				addErr(err)
				return
			}
			b.sessionOpen.Store(false)
			logger.InfoContext(ctx, "closed discord session")
		}()
	}
	stopWG.Wait()

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}
	b.discord.discordgoRemoveHandlerFuncs = nil

	logger.InfoContext(ctx, "shutdown complete", "duration", time.Since(shutdownStart))
	return errors.Join(errs...)
}

// Status returns a snapshot of the bot's state, as reported by the
// status API
func (b *Bot) Status() StatusResponse {
	commands := make([]string, 0, len(b.registry.All()))
	for _, c := range b.registry.All() {
		commands = append(commands, c.Name)
	}
	status := StatusResponse{
		StartedAt: b.startedAt,
		Discord: DiscordStatus{
			Connected:   b.discord.Connected(),
			Username:    b.discord.Username(),
			Guilds:      b.discord.guildCount.Load(),
			Connects:    b.discord.metricConnects.Load(),
			Disconnects: b.discord.metricDisconnects.Load(),
		},
		AI: AIStatus{
			Configured: b.ai.Configured(),
			Provider:   b.ai.ProviderName(),
		},
		Dispatch: b.router.Stats(),
		Commands: commands,
		Receive: ReceiveMethods{
			Gateway: true,
			Webhook: b.webhookServer != nil,
		},
	}
	if !b.startedAt.IsZero() {
		status.Uptime = time.Since(b.startedAt).Round(time.Second).String()
	}
	return status
}
