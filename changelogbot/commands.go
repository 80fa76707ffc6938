package changelogbot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"sync"
)

const (
	CommandAsk       = "ask"
	CommandChangelog = "changelog"

	askOptionQuestion = "pertanyaan"

	changelogOptionChannel  = "channel"
	changelogOptionRolePing = "role_ping"
)

// CommandOption describes a single typed slash command option
type CommandOption struct {
	Name         string                                 `json:"name" binding:"required,min=1,max=32"`
	Description  string                                 `json:"description" binding:"required,min=1,max=100"`
	Required     bool                                   `json:"required"`
	Kind         discordgo.ApplicationCommandOptionType `json:"kind" binding:"required"`
	ChannelTypes []discordgo.ChannelType                `json:"channel_types,omitempty"`
	MaxLength    int                                    `json:"max_length,omitempty" binding:"min=0,max=6000"`
}

// CommandDescriptor is the static declaration of a slash command. It's
// used both to register the command with Discord, and as the dispatch
// table key.
type CommandDescriptor struct {
	Name        string          `json:"name" binding:"required,min=1,max=32"`
	Description string          `json:"description" binding:"required,min=1,max=100"`
	Options     []CommandOption `json:"options,omitempty" binding:"dive"`
}

// ApplicationCommand converts the descriptor to its registration payload
func (c CommandDescriptor) ApplicationCommand() *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        c.Name,
		Description: c.Description,
		Type:        discordgo.ChatApplicationCommand,
	}
	for _, opt := range c.Options {
		cmd.Options = append(
			cmd.Options,
			&discordgo.ApplicationCommandOption{
				Type:         opt.Kind,
				Name:         opt.Name,
				Description:  opt.Description,
				Required:     opt.Required,
				ChannelTypes: opt.ChannelTypes,
				MaxLength:    opt.MaxLength,
			},
		)
	}
	return cmd
}

// CommandRegistry holds the bot's command descriptors. Descriptors are
// registered once at startup, and only read afterward.
type CommandRegistry struct {
	mu          sync.RWMutex
	descriptors []CommandDescriptor
	byName      map[string]int
}

// NewCommandRegistry returns a registry containing the given descriptors,
// in order. An error is returned if any names collide.
func NewCommandRegistry(descriptors ...CommandDescriptor) (*CommandRegistry, error) {
	r := &CommandRegistry{byName: map[string]int{}}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds the descriptor to the registry. It fails with
// ErrDuplicateCommandName if the name is already registered.
func (r *CommandRegistry) Register(descriptor CommandDescriptor) error {
	if err := structValidator.Struct(descriptor); err != nil {
		return fmt.Errorf("invalid command %q: %w", descriptor.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[descriptor.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommandName, descriptor.Name)
	}
	r.byName[descriptor.Name] = len(r.descriptors)
	r.descriptors = append(r.descriptors, descriptor)
	return nil
}

// Lookup returns the descriptor with the given name, or an error
// wrapping ErrNotFound.
func (r *CommandRegistry) Lookup(name string) (CommandDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byName[name]
	if !ok {
		return CommandDescriptor{}, fmt.Errorf("command %q: %w", name, ErrNotFound)
	}
	return r.descriptors[idx], nil
}

// All returns the registered descriptors, in registration order
func (r *CommandRegistry) All() []CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rv := make([]CommandDescriptor, len(r.descriptors))
	copy(rv, r.descriptors)
	return rv
}

func (r *CommandRegistry) ApplicationCommands() []*discordgo.ApplicationCommand {
	all := r.All()
	commands := make([]*discordgo.ApplicationCommand, 0, len(all))
	for _, d := range all {
		commands = append(commands, d.ApplicationCommand())
	}
	return commands
}

// DefaultCommands returns the /ask and /changelog descriptors
func DefaultCommands() []CommandDescriptor {
	return []CommandDescriptor{
		{
			Name:        CommandAsk,
			Description: "Tanya AI apapun",
			Options: []CommandOption{
				{
					Name:        askOptionQuestion,
					Description: "Pertanyaan yang ingin ditanyakan ke AI",
					Required:    true,
					Kind:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		{
			Name:        CommandChangelog,
			Description: "Kirim pesan changelog/update ke channel yang dipilih",
			Options: []CommandOption{
				{
					Name:         changelogOptionChannel,
					Description:  "Channel tujuan pengiriman changelog",
					Required:     true,
					Kind:         discordgo.ApplicationCommandOptionChannel,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
				{
					Name:        changelogOptionRolePing,
					Description: "Role yang akan di-mention (opsional)",
					Required:    false,
					Kind:        discordgo.ApplicationCommandOptionRole,
				},
			},
		},
	}
}
