package changelogbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"github.com/samber/mo"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

const (
	askTitleMaxLength       = 256
	askSourcesMax           = 5
	discordEmbedFieldMaxLen = 1024

	msgAIUnconfigured = "AI belum dikonfigurasi. Tambahkan token AI " +
		"(GROQ_API_KEY atau CB_AI_TOKEN) di environment variables."
	msgAIFailed             = "Gagal mendapatkan jawaban dari AI: %s"
	msgCommandFailed        = "Terjadi error saat menjalankan command."
	msgChangelogFailed      = "Terjadi error saat mengirim changelog."
	msgChangelogSent        = "Changelog berhasil dikirim ke <#%s>."
	msgChannelNotFound      = "Channel tidak ditemukan."
	msgNotFound             = "Data yang diminta tidak ditemukan."
	msgDeliveryFailed       = "Gagal mengirim pesan. Pastikan bot punya izin mengirim pesan di channel tersebut."
	msgInvalidChangelogForm = "Data changelog tidak valid. Silakan jalankan /changelog lagi."
)

// DispatchState is a step in handling a single interaction
type DispatchState int

const (
	DispatchIdle DispatchState = iota
	DispatchRouting
	DispatchCommandHandling
	DispatchModalHandling
	DispatchReplied
	DispatchFailed
	DispatchIgnored
)

func (s DispatchState) String() string {
	switch s {
	case DispatchIdle:
		return "idle"
	case DispatchRouting:
		return "routing"
	case DispatchCommandHandling:
		return "command_handling"
	case DispatchModalHandling:
		return "modal_handling"
	case DispatchReplied:
		return "replied"
	case DispatchFailed:
		return "failed"
	case DispatchIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("DispatchState(%d)", int(s))
	}
}

// QuestionAnswerer answers /ask questions. Implemented by [AIService].
type QuestionAnswerer interface {
	Configured() bool
	ProviderName() string
	Answer(ctx context.Context, question string) (Answer, error)
}

// ChangelogSender delivers changelogs. Implemented by [ChangelogComposer].
type ChangelogSender interface {
	Compose(ctx context.Context, record ChangelogRecord, target ChangelogTarget) (DeliveryReceipt, error)
}

type commandHandler func(ctx context.Context, cmd ChatInputCommand, reply *Reply) error

// reportedError is returned by handlers which have already told the user
// about the failure, so the router doesn't report it a second time.
type reportedError struct {
	err error
}

func (e reportedError) Error() string {
	return e.err.Error()
}

func (e reportedError) Unwrap() error {
	return e.err
}

// DispatchStats counts dispatched interactions by outcome
type DispatchStats struct {
	Dispatched int64 `json:"dispatched"`
	Replied    int64 `json:"replied"`
	Failed     int64 `json:"failed"`
	Ignored    int64 `json:"ignored"`
}

// Router classifies incoming interactions and routes them to the /ask and
// /changelog handlers. Every accepted interaction ends in exactly one
// reply, deferred-then-edit, or failure follow-up.
type Router struct {
	registry  *CommandRegistry
	ai        QuestionAnswerer
	changelog ChangelogSender
	handlers  map[string]commandHandler
	now       func() time.Time

	dispatched atomic.Int64
	replied    atomic.Int64
	failed     atomic.Int64
	ignored    atomic.Int64
}

// NewRouter returns a Router which dispatches the registry's commands.
// Registered commands without a handler are ignored when invoked.
func NewRouter(
	registry *CommandRegistry,
	ai QuestionAnswerer,
	changelog ChangelogSender,
) *Router {
	r := &Router{
		registry:  registry,
		ai:        ai,
		changelog: changelog,
		handlers:  map[string]commandHandler{},
		now:       time.Now,
	}
	known := map[string]commandHandler{
		CommandAsk:       r.handleAsk,
		CommandChangelog: r.handleChangelogCommand,
	}
	for _, d := range registry.All() {
		if h, ok := known[d.Name]; ok {
			r.handlers[d.Name] = h
		}
	}
	return r
}

// Stats returns outcome counters since the router was created
func (r *Router) Stats() DispatchStats {
	return DispatchStats{
		Dispatched: r.dispatched.Load(),
		Replied:    r.replied.Load(),
		Failed:     r.failed.Load(),
		Ignored:    r.ignored.Load(),
	}
}

type dispatch struct {
	state  DispatchState
	logger *slog.Logger
	start  time.Time
}

func (d *dispatch) transition(ctx context.Context, next DispatchState) {
	d.logger.DebugContext(ctx, "dispatch transition", "from", d.state, "to", next)
	d.state = next
}

// Dispatch handles a single interaction, and returns the terminal state
// reached.
func (r *Router) Dispatch(ctx context.Context, handler InteractionHandler) DispatchState {
	r.dispatched.Add(1)

	logger := handler.Logger()
	if logger == nil {
		logger = contextLoggerOrDefault(ctx)
	}
	logger = logger.With("trace_id", newID("itx"))
	ctx = WithLogger(ctx, logger)

	d := &dispatch{state: DispatchIdle, logger: logger, start: time.Now()}
	d.transition(ctx, DispatchRouting)

	reply := newReply(handler)
	final := r.route(ctx, d, handler, reply)
	d.transition(ctx, final)

	switch final {
	case DispatchReplied:
		r.replied.Add(1)
	case DispatchFailed:
		r.failed.Add(1)
	default:
		r.ignored.Add(1)
	}
	logger.InfoContext(
		ctx,
		"interaction finished",
		"state", final,
		"reply", reply.State(),
		"duration", time.Since(d.start),
	)
	return final
}

func (r *Router) route(
	ctx context.Context,
	d *dispatch,
	handler InteractionHandler,
	reply *Reply,
) DispatchState {
	logger := d.logger
	event, err := eventFromInteraction(handler.GetInteraction())
	if err != nil {
		logger.ErrorContext(ctx, "unable to decode interaction", tint.Err(err))
		return DispatchIgnored
	}

	var handlerErr error
	var genericFailure string

	switch e := event.(type) {
	case Ping:
		if err = reply.Pong(ctx); err != nil {
			logger.ErrorContext(ctx, "error responding to ping", tint.Err(err))
			return DispatchFailed
		}
		return DispatchReplied
	case ChatInputCommand:
		logger.InfoContext(ctx, "received command", "command", e)
		if e.Invoker.Bot {
			logger.WarnContext(ctx, "invoker is a bot, ignoring")
			return DispatchIgnored
		}
		if _, err = r.registry.Lookup(e.Name); err != nil {
			logger.WarnContext(ctx, "unregistered command, ignoring", tint.Err(err))
			return DispatchIgnored
		}
		h, ok := r.handlers[e.Name]
		if !ok {
			logger.WarnContext(ctx, "no handler for command, ignoring", "name", e.Name)
			return DispatchIgnored
		}
		d.transition(ctx, DispatchCommandHandling)
		genericFailure = msgCommandFailed
		handlerErr = runRecovered(
			ctx, func(ctx context.Context) error {
				return h(ctx, e, reply)
			},
		)
	case ModalSubmit:
		logger.InfoContext(ctx, "received modal", "modal", e)
		if !isChangelogCustomID(e.CustomID) {
			logger.WarnContext(ctx, "unknown modal, ignoring", "custom_id", e.CustomID)
			return DispatchIgnored
		}
		d.transition(ctx, DispatchModalHandling)
		genericFailure = msgChangelogFailed
		handlerErr = runRecovered(
			ctx, func(ctx context.Context) error {
				return r.handleChangelogModal(ctx, e, reply)
			},
		)
	case UnsupportedInteraction:
		logger.InfoContext(ctx, "unsupported interaction type, ignoring", "type", e.Type.String())
		return DispatchIgnored
	default:
		logger.ErrorContext(ctx, fmt.Sprintf("unexpected event type %T", e))
		return DispatchIgnored
	}

	if handlerErr == nil {
		return DispatchReplied
	}

	logger.ErrorContext(ctx, "error handling interaction", tint.Err(handlerErr))
	var reported reportedError
	if errors.As(handlerErr, &reported) {
		return DispatchFailed
	}
	if failErr := reply.Fail(ctx, failureMessage(handlerErr, genericFailure)); failErr != nil {
		logger.ErrorContext(ctx, "unable to report failure", tint.Err(failErr))
	}
	return DispatchFailed
}

// failureMessage returns the user-facing text for a handler error
func failureMessage(err error, generic string) string {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrChannelNotFound):
		return msgChannelNotFound
	case errors.Is(err, ErrNotFound):
		return msgNotFound
	case errors.Is(err, ErrDeliveryFailed):
		return msgDeliveryFailed
	case errors.Is(err, ErrInvalidCustomID), errors.As(err, &validationErrs):
		return msgInvalidChangelogForm
	default:
		return generic
	}
}

// runRecovered runs fn, converting a panic into an error
func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
			err = fmt.Errorf("recovered from panic: %v", rc)
		}
	}()
	return fn(ctx)
}

// handleRecover logs a recovered panic, with its stack trace
func handleRecover(ctx context.Context, rc any) {
	logger := contextLoggerOrDefault(ctx)
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}

// handleAsk answers an /ask question. The reply is deferred before the
// provider is called, then edited with the answer.
func (r *Router) handleAsk(ctx context.Context, cmd ChatInputCommand, reply *Reply) error {
	question, _ := cmd.Option(askOptionQuestion)
	question = strings.TrimSpace(question)
	if question == "" {
		return fmt.Errorf("option %q: %w", askOptionQuestion, ErrNotFound)
	}

	if r.ai == nil || !r.ai.Configured() {
		return reply.Respond(
			ctx,
			&discordgo.InteractionResponseData{
				Content: msgAIUnconfigured,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		)
	}

	if err := reply.Defer(ctx, false); err != nil {
		return err
	}

	answer, err := r.ai.Answer(ctx, question)
	if err != nil {
		reason := err.Error()
		var providerErr *ProviderError
		if errors.As(err, &providerErr) && providerErr.Message != "" {
			reason = providerErr.Message
		}
		content := fmt.Sprintf(msgAIFailed, reason)
		if editErr := reply.Edit(ctx, &discordgo.WebhookEdit{Content: &content}); editErr != nil {
			return errors.Join(err, editErr)
		}
		return reportedError{err: err}
	}

	embeds := []*discordgo.MessageEmbed{askEmbed(answer, cmd.Invoker.Username, r.now())}
	return reply.Edit(ctx, &discordgo.WebhookEdit{Embeds: &embeds})
}

// askEmbed renders an answer. The question is the title, truncated to
// discord's embed title limit.
func askEmbed(answer Answer, username string, answeredAt time.Time) *discordgo.MessageEmbed {
	footer := fmt.Sprintf("Dijawab oleh %s", answer.Provider)
	if answer.UsedWebSearch {
		footer += " 🌐"
	}
	footer += fmt.Sprintf(" | Ditanya oleh %s", username)

	title := answer.Question
	if utf8.RuneCountInString(title) > askTitleMaxLength {
		title = truncate(title, askTitleMaxLength-3) + "..."
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: answer.Text,
		Color:       DefaultAskColor,
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp:   answeredAt.Format(time.RFC3339),
	}

	if len(answer.Sources) > 0 {
		var lines []string
		for idx, src := range answer.Sources {
			if idx >= askSourcesMax {
				break
			}
			title := strings.ReplaceAll(truncateWithSuffix(src.Title, 80, "..."), "]", ")")
			lines = append(lines, fmt.Sprintf("%d. [%s](%s)", idx+1, title, src.URL))
		}
		embed.Fields = []*discordgo.MessageEmbedField{
			{
				Name:  "Sumber",
				Value: truncate(strings.Join(lines, "\n"), discordEmbedFieldMaxLen),
			},
		}
	}
	return embed
}

// handleChangelogCommand responds to /changelog with the changelog modal.
// The target channel and role are carried in the modal's custom ID.
func (r *Router) handleChangelogCommand(
	ctx context.Context,
	cmd ChatInputCommand,
	reply *Reply,
) error {
	channelID, _ := cmd.Option(changelogOptionChannel)
	if channelID == "" {
		return fmt.Errorf("option %q: %w", changelogOptionChannel, ErrChannelNotFound)
	}
	target := ChangelogTarget{ChannelID: channelID, RoleID: mo.None[string]()}
	if roleID, ok := cmd.Option(changelogOptionRolePing); ok && roleID != "" {
		target.RoleID = mo.Some(roleID)
	}
	modal, err := changelogModal(target)
	if err != nil {
		return err
	}
	return reply.ShowModal(ctx, modal)
}

// handleChangelogModal sends a submitted changelog. The reply is deferred
// (visible only to the submitter), then edited with a confirmation.
func (r *Router) handleChangelogModal(ctx context.Context, submit ModalSubmit, reply *Reply) error {
	if err := reply.Defer(ctx, true); err != nil {
		return err
	}
	target, err := ParseChangelogCustomID(submit.CustomID)
	if err != nil {
		return err
	}
	if r.changelog == nil {
		return fmt.Errorf("changelog composer: %w", ErrConfigurationMissing)
	}

	logger := contextLoggerOrDefault(ctx)
	record := changelogRecordFromFields(submit.Fields)
	logger.InfoContext(ctx, "processing changelog", "target", target, "record", record)

	receipt, err := r.changelog.Compose(ctx, record, target)
	if err != nil {
		return err
	}
	logger.InfoContext(
		ctx,
		"changelog delivered",
		"channel_name", receipt.ChannelName,
		"submitted_by", submit.Invoker.Username,
	)
	content := fmt.Sprintf(msgChangelogSent, receipt.ChannelID)
	return reply.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
}
