package cmd

import (
	"errors"
	"github.com/habibrodriguez7-art/changelog-bot/changelogbot"
	"github.com/spf13/cobra"
	"log"
	"strings"
)

var errDiscordTokenMissing = errors.New(
	"bot token is not configured: set DISCORD_TOKEN (or CB_DISCORD_TOKEN) " +
		"to the token from https://discord.com/developers/applications",
)

// checkDiscordToken fails on a missing token, or the placeholder value
// from the example env file
func checkDiscordToken(c *changelogbot.Config) error {
	if c.Discord == nil {
		return errDiscordTokenMissing
	}
	token := strings.TrimSpace(c.Discord.Token)
	if token == "" || token == changelogbot.PlaceholderDiscordToken {
		return errDiscordTokenMissing
	}
	return nil
}

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot, and (optionally) the status API and webhook server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			if err := checkDiscordToken(cfg); err != nil {
				log.Fatalf("error: %s", err.Error())
			}

			bot, err := changelogbot.New(ctx, cfg)
			if err != nil {
				log.Fatalf("error creating bot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running bot: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
