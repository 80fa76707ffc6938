//nolint:lll // struct tags can't be split
package changelogbot

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	EnvvarSetEnvPrefix     = "CHANGELOG_BOT_ENV_PREFIX"
	DefaultEnvPrefix       = "CB"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSMinVersion = tls.VersionTLS12
	DefaultDiscordWebhookResponseTimeout     = 2500 * time.Millisecond
	DefaultDiscordWebhookLogLevel            = slog.LevelInfo
	DefaultDiscordLogLevel                   = slog.LevelWarn
	DefaultDiscordgoLogLevel                 = slog.LevelWarn
	DefaultDiscordGatewayIntent              = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMembers
	DefaultDiscordCustomStatus               = "/ask • /changelog"

	// PlaceholderDiscordToken and PlaceholderGuildID are the values left in
	// example env files. They're treated the same as unset values.
	PlaceholderDiscordToken = "YOUR_BOT_TOKEN_HERE"
	PlaceholderGuildID      = "YOUR_GUILD_ID_HERE"

	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultAIProvider      = ProviderGroq
	DefaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	DefaultGroqModel       = "llama-3.3-70b-versatile"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultAIMaxTokens     = 2048
	DefaultMaxAnswerLength = 4000
	DefaultAILogLevel      = slog.LevelInfo
	DefaultDateLocale      = "id"

	DefaultSearchEndpoint   = "https://html.duckduckgo.com/html/"
	DefaultSearchUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultSearchMaxResults = 5

	DefaultChangelogTimezone = "Local"
	DefaultChangelogColor    = 0xFF8C00
	DefaultAskColor          = 0xF55036

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultAPICORSAllowCredentials = false
	defaultListenNetwork           = "tcp"
)

type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	if err := v.RegisterValidation("notplaceholder", validateNotPlaceholder); err != nil {
		panic(err)
	}
	return v
}

// validateNotPlaceholder rejects values copied verbatim from example
// env files.
func validateNotPlaceholder(fl validator.FieldLevel) bool {
	return !isPlaceholder(fl.Field().String())
}

func isPlaceholder(s string) bool {
	s = strings.TrimSpace(s)
	return s == PlaceholderDiscordToken || s == PlaceholderGuildID
}

type Config struct {
	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Development enables gin debug mode and permissive CORS
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	// StartupTimeout limits the time allowed to open the discord session
	// and register commands.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for in-flight interactions to
	// finish. After this elapses, servers are closed forcefully.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	Discord   *DiscordConfig   `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`
	AI        *AIConfig        `yaml:"ai" mapstructure:"ai" json:"ai" binding:"required"`
	Changelog *ChangelogConfig `yaml:"changelog" mapstructure:"changelog" json:"changelog" binding:"required"`
	API       *APIConfig       `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	HTTPClient *http.Client `mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required,notplaceholder"`

	// Discord application ID. Required to register slash commands.
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set on the bot user after connecting to the gateway
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// RegisterCommandsOnStart overwrites the slash commands when Run starts
	RegisterCommandsOnStart bool `yaml:"register_commands_on_start" mapstructure:"register_commands_on_start" json:"register_commands_on_start"`
}

// RegistrationGuildID returns the guild to scope command registration to,
// or an empty string for global registration.
func (c DiscordConfig) RegistrationGuildID() string {
	if isPlaceholder(c.GuildID) {
		return ""
	}
	return strings.TrimSpace(c.GuildID)
}

// DiscordWebhookServerConfig represents the configuration for the Discord
// webhook (HTTP interactions) server.
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,omitempty,hostname_port"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true,omitempty,hexadecimal"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ResponseTimeout is how long a webhook request waits for the first
	// interaction response before acknowledging with a deferred response.
	// Discord requires a response within 3 seconds.
	ResponseTimeout time.Duration `yaml:"response_timeout" mapstructure:"response_timeout" json:"response_timeout" binding:"omitempty,max=3s"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// AIConfig configures the /ask command's AI provider. When Token is
// empty, /ask replies with a notice rather than failing.
type AIConfig struct {
	// Provider selects the answer strategy: 'gemini' delegates web search
	// to the model, 'groq' and 'openai' run a separate web search and
	// inject the results into the prompt.
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider" binding:"oneof=groq openai gemini"`

	// API token for the selected provider
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// BaseURL overrides the provider endpoint. Defaults to Groq's
	// OpenAI-compatible endpoint for 'groq'.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`

	// Model name. Defaults depend on Provider.
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// MaxTokens is the completion token budget sent with each request
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`

	// MaxAnswerLength is the number of characters an answer is truncated to
	MaxAnswerLength int `yaml:"max_answer_length" mapstructure:"max_answer_length" json:"max_answer_length" binding:"min=1,max=4096"`

	// DateLocale is used to format today's date in the system instruction
	DateLocale string `yaml:"date_locale" mapstructure:"date_locale" json:"date_locale" binding:"oneof=id en"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	Search SearchConfig `yaml:"search" mapstructure:"search" json:"search"`
}

// Configured reports whether a provider credential was supplied
func (c AIConfig) Configured() bool {
	return strings.TrimSpace(c.Token) != ""
}

// SearchConfig configures the web search used by the manual search
// strategy.
type SearchConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint" binding:"required_if=Enabled true,omitempty,url"`
	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent" json:"user_agent"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results" json:"max_results" binding:"min=0,max=25"`
}

// ChangelogConfig configures how changelog announcements are rendered
type ChangelogConfig struct {
	// Timezone is the IANA zone used for the trailing timestamp.
	// "Local" uses the host's zone.
	Timezone string `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"required"`

	// Embed color
	Color int `yaml:"color" mapstructure:"color" json:"color" binding:"min=0,max=16777215"`
}

// APIConfig configures the status API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,omitempty,hostname_port"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" json:"cert_file"`

	// Path to an SSL cert key
	KeyFile string `yaml:"key_file" mapstructure:"key_file" json:"key_file"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	aiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	discordWebhookLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	aiLogLevel.Set(DefaultAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	discordWebhookLogLevel.Set(DefaultDiscordWebhookLogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Enabled:       false,
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSMinVersion,
				},
				LogLevel:          discordWebhookLogLevel,
				ResponseTimeout:   DefaultDiscordWebhookResponseTimeout,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		AI: &AIConfig{
			Provider:        DefaultAIProvider,
			MaxTokens:       DefaultAIMaxTokens,
			MaxAnswerLength: DefaultMaxAnswerLength,
			DateLocale:      DefaultDateLocale,
			LogLevel:        aiLogLevel,
			Search: SearchConfig{
				Enabled:    true,
				Endpoint:   DefaultSearchEndpoint,
				UserAgent:  DefaultSearchUserAgent,
				MaxResults: DefaultSearchMaxResults,
			},
		},
		Changelog: &ChangelogConfig{
			Timezone: DefaultChangelogTimezone,
			Color:    DefaultChangelogColor,
		},
		API: &APIConfig{
			Enabled:       false,
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
