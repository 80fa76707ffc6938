package changelogbot

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"strconv"
)

var errNilInteraction = errors.New("nil interaction")

// InteractionEvent is an inbound interaction, decoded from the Discord
// payload. The concrete types are ChatInputCommand, ModalSubmit, Ping and
// UnsupportedInteraction.
type InteractionEvent interface {
	ID() string
	isInteractionEvent()
}

// Invoker identifies the user who triggered an interaction
type Invoker struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// ChatInputCommand is a slash command invocation. Option values are
// flattened to strings: channel, role and user options carry their IDs.
type ChatInputCommand struct {
	InteractionID string            `json:"interaction_id"`
	Name          string            `json:"name"`
	Options       map[string]string `json:"options"`
	Invoker       Invoker           `json:"invoker"`
	GuildID       string            `json:"guild_id"`
	ChannelID     string            `json:"channel_id"`
}

func (c ChatInputCommand) ID() string { return c.InteractionID }

func (ChatInputCommand) isInteractionEvent() {}

// Option returns the named option value, and whether it was set
func (c ChatInputCommand) Option(name string) (string, bool) {
	v, ok := c.Options[name]
	return v, ok
}

func (c ChatInputCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", "command"),
		slog.String("name", c.Name),
		slog.String("invoker_id", c.Invoker.ID),
		slog.String("guild_id", c.GuildID),
	)
}

// ModalSubmit is a submitted modal, with text input values keyed by their
// custom IDs.
type ModalSubmit struct {
	InteractionID string            `json:"interaction_id"`
	CustomID      string            `json:"custom_id"`
	Fields        map[string]string `json:"fields"`
	Invoker       Invoker           `json:"invoker"`
	GuildID       string            `json:"guild_id"`
	ChannelID     string            `json:"channel_id"`
}

func (m ModalSubmit) ID() string { return m.InteractionID }

func (ModalSubmit) isInteractionEvent() {}

func (m ModalSubmit) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", "modal"),
		slog.String("custom_id", m.CustomID),
		slog.String("invoker_id", m.Invoker.ID),
		slog.String("guild_id", m.GuildID),
	)
}

// Ping is sent by Discord to verify a webhook endpoint
type Ping struct {
	InteractionID string `json:"interaction_id"`
}

func (p Ping) ID() string { return p.InteractionID }

func (Ping) isInteractionEvent() {}

// UnsupportedInteraction covers interaction types the bot doesn't handle,
// such as message components and autocomplete.
type UnsupportedInteraction struct {
	InteractionID string                    `json:"interaction_id"`
	Type          discordgo.InteractionType `json:"type"`
}

func (u UnsupportedInteraction) ID() string { return u.InteractionID }

func (UnsupportedInteraction) isInteractionEvent() {}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

func interactionInvoker(i *discordgo.InteractionCreate) Invoker {
	u := getDiscordUser(i)
	if u == nil {
		return Invoker{}
	}
	return Invoker{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

// eventFromInteraction decodes a Discord interaction into an
// InteractionEvent.
func eventFromInteraction(i *discordgo.InteractionCreate) (InteractionEvent, error) {
	if i == nil || i.Interaction == nil {
		return nil, errNilInteraction
	}

	switch i.Type {
	case discordgo.InteractionPing:
		return Ping{InteractionID: i.ID}, nil
	case discordgo.InteractionApplicationCommand:
		data, ok := i.Data.(discordgo.ApplicationCommandInteractionData)
		if !ok {
			return nil, fmt.Errorf("unexpected command data type %T", i.Data)
		}
		options := make(map[string]string, len(data.Options))
		for name, opt := range discordInteractionOptions(i) {
			options[name] = optionString(opt)
		}
		return ChatInputCommand{
			InteractionID: i.ID,
			Name:          data.Name,
			Options:       options,
			Invoker:       interactionInvoker(i),
			GuildID:       i.GuildID,
			ChannelID:     i.ChannelID,
		}, nil
	case discordgo.InteractionModalSubmit:
		data, ok := i.Data.(discordgo.ModalSubmitInteractionData)
		if !ok {
			return nil, fmt.Errorf("unexpected modal data type %T", i.Data)
		}
		return ModalSubmit{
			InteractionID: i.ID,
			CustomID:      data.CustomID,
			Fields:        modalFieldValues(data.Components),
			Invoker:       interactionInvoker(i),
			GuildID:       i.GuildID,
			ChannelID:     i.ChannelID,
		}, nil
	default:
		return UnsupportedInteraction{InteractionID: i.ID, Type: i.Type}, nil
	}
}

func optionString(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	switch opt.Type {
	case discordgo.ApplicationCommandOptionString:
		return opt.StringValue()
	case discordgo.ApplicationCommandOptionChannel:
		return opt.ChannelValue(nil).ID
	case discordgo.ApplicationCommandOptionRole:
		return opt.RoleValue(nil, "").ID
	case discordgo.ApplicationCommandOptionUser:
		return opt.UserValue(nil).ID
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(opt.IntValue(), 10)
	case discordgo.ApplicationCommandOptionBoolean:
		return strconv.FormatBool(opt.BoolValue())
	default:
		return fmt.Sprint(opt.Value)
	}
}

// modalFieldValues collects text input values from a modal's action rows.
// Components decoded from JSON are pointers, while ones built in code are
// usually values, so both are accepted.
func modalFieldValues(components []discordgo.MessageComponent) map[string]string {
	fields := map[string]string{}
	var collect func(c discordgo.MessageComponent)
	collect = func(c discordgo.MessageComponent) {
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			for _, child := range v.Components {
				collect(child)
			}
		case discordgo.ActionsRow:
			for _, child := range v.Components {
				collect(child)
			}
		case *discordgo.TextInput:
			fields[v.CustomID] = v.Value
		case discordgo.TextInput:
			fields[v.CustomID] = v.Value
		}
	}
	for _, c := range components {
		collect(c)
	}
	return fields
}
