package changelogbot

import (
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	return cfg
}

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, structValidator.Struct(validConfig()))
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
		field  string
	}{
		{
			name:   "missing token",
			modify: func(cfg *Config) { cfg.Discord.Token = "" },
			field:  "Token",
		},
		{
			name:   "placeholder token",
			modify: func(cfg *Config) { cfg.Discord.Token = PlaceholderDiscordToken },
			field:  "Token",
		},
		{
			name:   "unknown provider",
			modify: func(cfg *Config) { cfg.AI.Provider = "anthropic" },
			field:  "Provider",
		},
		{
			name:   "answer length over discord limit",
			modify: func(cfg *Config) { cfg.AI.MaxAnswerLength = 5000 },
			field:  "MaxAnswerLength",
		},
		{
			name:   "unknown date locale",
			modify: func(cfg *Config) { cfg.AI.DateLocale = "fr" },
			field:  "DateLocale",
		},
		{
			name: "webhook enabled without public key",
			modify: func(cfg *Config) {
				cfg.Discord.WebhookServer.Enabled = true
			},
			field: "PublicKey",
		},
		{
			name: "webhook response timeout over discord limit",
			modify: func(cfg *Config) {
				cfg.Discord.WebhookServer.ResponseTimeout = 5 * time.Second
			},
			field: "ResponseTimeout",
		},
		{
			name:   "invalid color",
			modify: func(cfg *Config) { cfg.Changelog.Color = 0x1000000 },
			field:  "Color",
		},
		{
			name:   "missing timezone",
			modify: func(cfg *Config) { cfg.Changelog.Timezone = "" },
			field:  "Timezone",
		},
		{
			name:   "missing changelog config",
			modify: func(cfg *Config) { cfg.Changelog = nil },
			field:  "Changelog",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				cfg := validConfig()
				tc.modify(cfg)
				err := structValidator.Struct(cfg)
				require.Error(t, err)

				var validationErrs validator.ValidationErrors
				require.ErrorAs(t, err, &validationErrs)
				fields := make([]string, 0, len(validationErrs))
				for _, fe := range validationErrs {
					fields = append(fields, fe.Field())
				}
				assert.Contains(t, fields, tc.field)
			},
		)
	}
}

func TestDiscordConfig_RegistrationGuildID(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		PlaceholderGuildID: "",
		" 1234 ":           "1234",
		"5678":             "5678",
	}
	for guildID, expected := range tests {
		cfg := DiscordConfig{GuildID: guildID}
		assert.Equal(t, expected, cfg.RegistrationGuildID(), guildID)
	}
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, isPlaceholder(PlaceholderDiscordToken))
	assert.True(t, isPlaceholder(" "+PlaceholderGuildID+"\n"))
	assert.False(t, isPlaceholder("real-token"))
	assert.False(t, isPlaceholder(""))
}

func TestAIConfig_Configured(t *testing.T) {
	assert.False(t, AIConfig{}.Configured())
	assert.False(t, AIConfig{Token: "   "}.Configured())
	assert.True(t, AIConfig{Token: "gsk_123"}.Configured())
}

func TestDefaultCORSConfig_Copies(t *testing.T) {
	a := DefaultCORSConfig()
	a.AllowMethods[0] = "DELETE"
	b := DefaultCORSConfig()
	assert.NotEqual(t, "DELETE", b.AllowMethods[0])
	assert.Equal(t, DefaultCORSAllowMethods, b.AllowMethods)
}
