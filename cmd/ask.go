package cmd

import (
	"context"
	"errors"
	"fmt"
	"github.com/habibrodriguez7-art/changelog-bot/changelogbot"
	"github.com/spf13/cobra"
	"io"
	"net/http"
	"strings"
)

var errAIUnconfigured = errors.New("no ai token configured: set GROQ_API_KEY (or CB_AI_TOKEN)")

// askQuestion answers question and writes the answer, followed by any
// sources, to out
func askQuestion(
	ctx context.Context,
	answerer changelogbot.QuestionAnswerer,
	question string,
	out io.Writer,
) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return errors.New("question is empty")
	}
	if !answerer.Configured() {
		return errAIUnconfigured
	}

	answer, err := answerer.Answer(ctx, question)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, answer.Text)
	if len(answer.Sources) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Sources:")
		for i, src := range answer.Sources {
			_, _ = fmt.Fprintf(out, "%d. %s <%s>\n", i+1, src.Title, src.URL)
		}
	}
	footer := fmt.Sprintf("-- %s", answer.Provider)
	if answer.UsedWebSearch {
		footer += " (web search)"
	}
	_, _ = fmt.Fprintln(out, footer)
	return nil
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Asks the configured AI provider a question, as /ask would",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := changelogbot.NewAIService(ctx, cfg.AI, http.DefaultClient)
		if err != nil {
			return err
		}
		return askQuestion(ctx, svc, strings.Join(args, " "), cmd.OutOrStdout())
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(askCmd)
}
