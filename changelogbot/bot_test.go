package changelogbot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// newTestBot creates a Bot from cfg (or the default config), with a
// mock discord session in place of the real one
func newTestBot(t testing.TB, cfg *Config) (*Bot, *mockDiscordSession) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = "test-token"
	}
	cfg.Changelog.Timezone = "UTC"

	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	session := newMockDiscordSession()
	b.setSession(session)
	return b, session
}

func TestNew_MissingConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConfigurationMissing)

	cfg := DefaultConfig()
	cfg.Discord = nil
	cfg.AI = nil
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "discord config")
	assert.Contains(t, err.Error(), "ai config")
}

func TestNew_InvalidTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	cfg.Changelog.Timezone = "Nowhere/Special"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_Servers(t *testing.T) {
	pub, _ := generateDiscordKey(t)
	cfg := DefaultConfig()
	cfg.API.Enabled = true
	cfg.Discord.WebhookServer.Enabled = true
	cfg.Discord.WebhookServer.PublicKey = pub

	b, _ := newTestBot(t, cfg)
	assert.NotNil(t, b.api)
	assert.NotNil(t, b.webhookServer)
	assert.Len(t, b.Registry().All(), 2)

	status := b.Status()
	assert.True(t, status.Receive.Gateway)
	assert.True(t, status.Receive.Webhook)
	assert.False(t, status.AI.Configured)
	assert.ElementsMatch(t, []string{CommandAsk, CommandChangelog}, status.Commands)
	assert.Empty(t, status.Uptime)
}

func TestBot_Run(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.ApplicationID = "app"
	cfg.Discord.GuildID = "guild"
	cfg.Discord.RegisterCommandsOnStart = true
	b, session := newTestBot(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()

	require.Eventually(
		t,
		func() bool {
			return session.lastOverwrite() != nil
		},
		5*time.Second,
		10*time.Millisecond,
	)
	overwrite := session.lastOverwrite()
	assert.Equal(t, "app", overwrite.AppID)
	assert.Equal(t, "guild", overwrite.GuildID)
	assert.Len(t, overwrite.Commands, 2)
	assert.Equal(t, cfg.Discord.GatewayIntents, session.identify.Intents)

	session.receiveInteraction(t, newAskInteraction(t, newDiscordUser(t), "", "halo"))

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	responses, _, _ := session.interactionCalls()
	require.Len(t, responses, 1)
	assert.Equal(t, msgAIUnconfigured, responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, responses[0].Data.Flags)

	session.mu.Lock()
	assert.Equal(t, 1, session.opened)
	assert.Equal(t, 1, session.closed)
	assert.Equal(t, 0, session.handlers)
	session.mu.Unlock()

	assert.False(t, b.trackInteraction(func() {}))
	assert.Equal(t, int64(1), b.Status().Dispatch.Replied)
}

func TestBot_RunInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = PlaceholderDiscordToken
	b, session := newTestBot(t, cfg)

	err := b.Run(context.Background())
	require.Error(t, err)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 0, session.opened)
}

func TestBot_ShutdownDeadline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	b, _ := newTestBot(t, cfg)

	b.interactionMu.Lock()
	b.accepting = true
	b.interactionMu.Unlock()

	release := make(chan struct{})
	require.True(t, b.trackInteraction(func() { <-release }))

	err := b.shutdown(context.Background())
	assert.ErrorIs(t, err, errShutdownDeadline)
	assert.False(t, b.trackInteraction(func() {}))

	close(release)
	b.interactions.Wait()
}

func TestBot_RegisterSlashCommands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.ApplicationID = "app"
	b, session := newTestBot(t, cfg)

	commands, err := b.RegisterSlashCommands(context.Background())
	require.NoError(t, err)
	assert.Len(t, commands, 2)
	assert.Empty(t, session.lastOverwrite().GuildID)

	b.config.Discord.Token = PlaceholderDiscordToken
	_, err = b.RegisterSlashCommands(context.Background())
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}
