package changelogbot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewCommandRegistry(t *testing.T) {
	registry, err := NewCommandRegistry(DefaultCommands()...)
	require.NoError(t, err)

	all := registry.All()
	require.Len(t, all, 2)
	assert.Equal(t, CommandAsk, all[0].Name)
	assert.Equal(t, CommandChangelog, all[1].Name)

	ask, err := registry.Lookup(CommandAsk)
	require.NoError(t, err)
	assert.Equal(t, "Tanya AI apapun", ask.Description)

	_, err = registry.Lookup("ping")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommandRegistry_DuplicateName(t *testing.T) {
	registry, err := NewCommandRegistry(DefaultCommands()...)
	require.NoError(t, err)

	err = registry.Register(
		CommandDescriptor{
			Name:        CommandAsk,
			Description: "another ask",
		},
	)
	assert.ErrorIs(t, err, ErrDuplicateCommandName)
	assert.Len(t, registry.All(), 2)

	_, err = NewCommandRegistry(DefaultCommands()[0], DefaultCommands()[0])
	assert.ErrorIs(t, err, ErrDuplicateCommandName)
}

func TestCommandRegistry_InvalidDescriptor(t *testing.T) {
	registry, err := NewCommandRegistry()
	require.NoError(t, err)

	err = registry.Register(CommandDescriptor{Name: "nodescription"})
	assert.Error(t, err)

	err = registry.Register(
		CommandDescriptor{
			Name:        "badoption",
			Description: "option without a description",
			Options: []CommandOption{
				{Name: "foo", Kind: discordgo.ApplicationCommandOptionString},
			},
		},
	)
	assert.Error(t, err)
	assert.Empty(t, registry.All())
}

func TestCommandRegistry_AllReturnsCopy(t *testing.T) {
	registry, err := NewCommandRegistry(DefaultCommands()...)
	require.NoError(t, err)

	all := registry.All()
	all[0].Name = "mutated"

	_, err = registry.Lookup(CommandAsk)
	assert.NoError(t, err)
	assert.Equal(t, CommandAsk, registry.All()[0].Name)
}

func TestCommandRegistry_ApplicationCommands(t *testing.T) {
	registry, err := NewCommandRegistry(DefaultCommands()...)
	require.NoError(t, err)

	commands := registry.ApplicationCommands()
	require.Len(t, commands, 2)

	ask := commands[0]
	assert.Equal(t, CommandAsk, ask.Name)
	assert.Equal(t, discordgo.ChatApplicationCommand, ask.Type)
	require.Len(t, ask.Options, 1)
	assert.Equal(t, "pertanyaan", ask.Options[0].Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, ask.Options[0].Type)
	assert.True(t, ask.Options[0].Required)

	changelog := commands[1]
	assert.Equal(t, CommandChangelog, changelog.Name)
	require.Len(t, changelog.Options, 2)

	channel := changelog.Options[0]
	assert.Equal(t, "channel", channel.Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionChannel, channel.Type)
	assert.True(t, channel.Required)
	assert.Equal(t, []discordgo.ChannelType{discordgo.ChannelTypeGuildText}, channel.ChannelTypes)

	role := changelog.Options[1]
	assert.Equal(t, "role_ping", role.Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionRole, role.Type)
	assert.False(t, role.Required)
}
