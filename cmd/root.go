package cmd

import (
	"context"
	"fmt"
	"github.com/habibrodriguez7-art/changelog-bot/changelogbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = changelogbot.DefaultConfig()
	configFile string
)

// envAliases are the unprefixed variable names used by existing .env
// files, bound alongside the prefixed names.
var envAliases = map[string]string{
	"discord.token":          "DISCORD_TOKEN",
	"discord.application_id": "CLIENT_ID",
	"discord.guild_id":       "GUILD_ID",
	"ai.token":               "GROQ_API_KEY",
}

// logLevelKeys are the settings holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"ai.log_level",
	"api.log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.webhook_server.log_level",
}

var corsSliceKeys = []string{
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "changelog-bot [flags]",
	Short: "Discord bot for AI questions and changelog announcements",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := unmarshalConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

func unmarshalConfig(c *changelogbot.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names ("DEBUG", "warn", ...) into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envPrefix() string {
	prefix := os.Getenv(changelogbot.EnvvarSetEnvPrefix)
	if prefix == "" {
		prefix = changelogbot.DefaultEnvPrefix
	}
	return prefix
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	viper.SetDefault("log_level", changelogbot.DefaultLogLevel.String())
	viper.SetDefault("development", false)
	viper.SetDefault("startup_timeout", changelogbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", changelogbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", changelogbot.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		changelogbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", changelogbot.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.custom_status", changelogbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.register_commands_on_start", false)

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		changelogbot.DefaultDiscordWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault(
		"discord.webhook_server.response_timeout",
		changelogbot.DefaultDiscordWebhookResponseTimeout,
	)
	viper.SetDefault("discord.webhook_server.read_timeout", changelogbot.DefaultReadTimeout)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		changelogbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("discord.webhook_server.write_timeout", changelogbot.DefaultWriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", changelogbot.DefaultIdleTimeout)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		changelogbot.DefaultDiscordWebhookLogLevel.String(),
	)
	viper.SetDefault(
		"discord.webhook_server.ssl.tls_min_version",
		changelogbot.DefaultDiscordWebhookServerTLSMinVersion,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// Discord: Webhook server: SSL
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert_file"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key_file"))

	// AI config
	viper.SetDefault("ai.provider", changelogbot.DefaultAIProvider)
	viper.SetDefault("ai.token", "")
	viper.SetDefault("ai.base_url", "")
	viper.SetDefault("ai.model", "")
	viper.SetDefault("ai.max_tokens", changelogbot.DefaultAIMaxTokens)
	viper.SetDefault("ai.max_answer_length", changelogbot.DefaultMaxAnswerLength)
	viper.SetDefault("ai.date_locale", changelogbot.DefaultDateLocale)
	viper.SetDefault("ai.log_level", changelogbot.DefaultAILogLevel.String())

	// AI: web search
	viper.SetDefault("ai.search.enabled", true)
	viper.SetDefault("ai.search.endpoint", changelogbot.DefaultSearchEndpoint)
	viper.SetDefault("ai.search.user_agent", changelogbot.DefaultSearchUserAgent)
	viper.SetDefault("ai.search.max_results", changelogbot.DefaultSearchMaxResults)

	// Changelog config
	viper.SetDefault("changelog.timezone", changelogbot.DefaultChangelogTimezone)
	viper.SetDefault("changelog.color", changelogbot.DefaultChangelogColor)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", changelogbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", changelogbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", changelogbot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", changelogbot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", changelogbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", changelogbot.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.tls_min_version", changelogbot.DefaultAPITLSMinVersion)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert_file"))
	fatalErr(viper.BindEnv("api.ssl.key_file"))

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", changelogbot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", changelogbot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", changelogbot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", changelogbot.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		changelogbot.DefaultAPICORSAllowCredentials,
	)

	prefix := envPrefix()
	viper.SetEnvPrefix(prefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// the prefixed name takes precedence over the alias
	for key, alias := range envAliases {
		prefixed := strings.ToUpper(prefix + "_" + replacer.Replace(key))
		fatalErr(viper.BindEnv(key, prefixed, alias))
	}

	// Convert values to correct types
	for _, key := range corsSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load",
	)
}
