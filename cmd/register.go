package cmd

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/habibrodriguez7-art/changelog-bot/changelogbot"
	"github.com/spf13/cobra"
	"io"
	"log"
)

type commandRegistrar interface {
	RegisterSlashCommands(
		ctx context.Context,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

// registerCommands overwrites the slash commands, and reports where they
// were registered
func registerCommands(
	ctx context.Context,
	registrar commandRegistrar,
	guildID string,
	out io.Writer,
) error {
	commands, err := registrar.RegisterSlashCommands(ctx)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	for _, c := range commands {
		_, _ = fmt.Fprintf(out, "registered /%s (%s)\n", c.Name, c.ID)
	}
	if guildID != "" {
		_, _ = fmt.Fprintf(out, "registered %d command(s) to guild %s\n", len(commands), guildID)
		return nil
	}
	_, _ = fmt.Fprintf(out, "registered %d command(s) globally\n", len(commands))
	_, _ = fmt.Fprintln(out, "global commands may take up to an hour to appear")
	return nil
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Registers the slash commands, to the configured guild or globally",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		if err := checkDiscordToken(cfg); err != nil {
			log.Fatalf("error: %s", err.Error())
		}
		bot, err := changelogbot.New(ctx, cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}
		err = registerCommands(ctx, bot, cfg.Discord.RegistrationGuildID(), cmd.OutOrStdout())
		if err != nil {
			log.Fatalln(err)
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCmd)
}
