package changelogbot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/samber/mo"
	"log/slog"
	"strings"
	"time"
)

const (
	changelogCustomIDPrefix    = "changelog_modal_"
	changelogCustomIDDelimiter = "_"
	changelogNoRole            = "none"

	changelogFieldTitle   = "changelog_title"
	changelogFieldProject = "changelog_project"
	changelogFieldChanges = "changelog_changes"
	changelogFieldFooter  = "changelog_footer"

	changelogSeparator       = "─"
	changelogTimestampLayout = "02/01/2006 15:04"

	changelogTitleMaxLength   = 100
	changelogProjectMaxLength = 200
	changelogChangesMaxLength = 2000
	changelogFooterMaxLength  = 1000
)

// ChangelogTarget is where a changelog is delivered: a channel, and
// optionally a role to ping.
type ChangelogTarget struct {
	ChannelID string
	RoleID    mo.Option[string]
}

func (t ChangelogTarget) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", t.ChannelID),
		slog.String("role_id", t.RoleID.OrElse(changelogNoRole)),
	)
}

// CustomID encodes the target into a modal custom ID, in the form
// "changelog_modal_<channelID>_<roleID|none>". IDs must be non-empty
// and can't contain the delimiter.
func (t ChangelogTarget) CustomID() (string, error) {
	if t.ChannelID == "" || strings.Contains(t.ChannelID, changelogCustomIDDelimiter) {
		return "", fmt.Errorf("%w: channel ID %q", ErrInvalidCustomID, t.ChannelID)
	}
	role := changelogNoRole
	if roleID, ok := t.RoleID.Get(); ok {
		if roleID == "" ||
			roleID == changelogNoRole ||
			strings.Contains(roleID, changelogCustomIDDelimiter) {
			return "", fmt.Errorf("%w: role ID %q", ErrInvalidCustomID, roleID)
		}
		role = roleID
	}
	return changelogCustomIDPrefix + t.ChannelID + changelogCustomIDDelimiter + role, nil
}

// isChangelogCustomID reports whether the custom ID belongs to a
// changelog modal
func isChangelogCustomID(customID string) bool {
	return strings.HasPrefix(customID, changelogCustomIDPrefix)
}

// ParseChangelogCustomID decodes a custom ID created by
// [ChangelogTarget.CustomID].
func ParseChangelogCustomID(customID string) (ChangelogTarget, error) {
	rest, ok := strings.CutPrefix(customID, changelogCustomIDPrefix)
	if !ok {
		return ChangelogTarget{}, fmt.Errorf("%w: missing prefix: %q", ErrInvalidCustomID, customID)
	}
	parts := strings.Split(rest, changelogCustomIDDelimiter)
	if len(parts) != 2 {
		return ChangelogTarget{}, fmt.Errorf(
			"%w: expected 2 parts, got %d: %q",
			ErrInvalidCustomID,
			len(parts),
			customID,
		)
	}
	channelID, roleID := parts[0], parts[1]
	if channelID == "" {
		return ChangelogTarget{}, fmt.Errorf("%w: empty channel ID: %q", ErrInvalidCustomID, customID)
	}
	target := ChangelogTarget{ChannelID: channelID, RoleID: mo.None[string]()}
	switch roleID {
	case changelogNoRole:
	case "":
		return ChangelogTarget{}, fmt.Errorf("%w: empty role ID: %q", ErrInvalidCustomID, customID)
	default:
		target.RoleID = mo.Some(roleID)
	}
	return target, nil
}

// ChangelogRecord is the content of a changelog announcement, as entered
// in the changelog modal.
//
//nolint:lll // struct tags can't be split
type ChangelogRecord struct {
	Title          string `json:"title" binding:"required,max=100"`
	ProjectVersion string `json:"project_version" binding:"required,max=200"`
	Changes        string `json:"changes" binding:"required,max=2000"`
	Footer         string `json:"footer" binding:"max=1000"`
}

func (r ChangelogRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("title", r.Title),
		slog.String("project_version", r.ProjectVersion),
		slog.Int("changes_length", len(r.Changes)),
		slog.Bool("has_footer", strings.TrimSpace(r.Footer) != ""),
	)
}

// changelogRecordFromFields builds a record from submitted modal fields
func changelogRecordFromFields(fields map[string]string) ChangelogRecord {
	return ChangelogRecord{
		Title:          fields[changelogFieldTitle],
		ProjectVersion: fields[changelogFieldProject],
		Changes:        fields[changelogFieldChanges],
		Footer:         fields[changelogFieldFooter],
	}
}

// DeliveryReceipt describes a sent changelog
type DeliveryReceipt struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	GuildID     string    `json:"guild_id"`
	MessageID   string    `json:"message_id"`
	SentAt      time.Time `json:"sent_at"`

	// ResolvedMentions is the number of @name tokens rewritten to member
	// mentions, across all fields
	ResolvedMentions int `json:"resolved_mentions"`

	// MentionLookupFailures is the number of member lookups that failed.
	// Those tokens were sent verbatim.
	MentionLookupFailures int `json:"mention_lookup_failures"`
}

func (r DeliveryReceipt) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", r.ChannelID),
		slog.String("channel_name", r.ChannelName),
		slog.String("guild_id", r.GuildID),
		slog.String("message_id", r.MessageID),
		slog.Time("sent_at", r.SentAt),
		slog.Int("resolved_mentions", r.ResolvedMentions),
		slog.Int("mention_lookup_failures", r.MentionLookupFailures),
	)
}

// ChangelogComposer formats changelog records and sends them to channels
type ChangelogComposer struct {
	session  DiscordSessionHandler
	color    int
	location *time.Location
	now      func() time.Time
}

// NewChangelogComposer returns a composer which sends via the given
// session. The configured time zone is loaded immediately, so a bad zone
// name fails at startup.
func NewChangelogComposer(
	session DiscordSessionHandler,
	config *ChangelogConfig,
) (*ChangelogComposer, error) {
	if config == nil {
		return nil, fmt.Errorf("changelog config: %w", ErrConfigurationMissing)
	}
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid changelog timezone %q: %w", config.Timezone, err)
	}
	return &ChangelogComposer{
		session:  session,
		color:    config.Color,
		location: loc,
		now:      time.Now,
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	switch name {
	case "", DefaultChangelogTimezone:
		return time.Local, nil
	default:
		return time.LoadLocation(name)
	}
}

// Compose formats the record and sends it to the target channel. @name
// tokens in each field are resolved against the channel's guild.
//
// Fails with ErrChannelNotFound if the channel can't be retrieved, and
// with a *DeliveryError if sending fails.
func (c *ChangelogComposer) Compose(
	ctx context.Context,
	record ChangelogRecord,
	target ChangelogTarget,
) (DeliveryReceipt, error) {
	logger := contextLoggerOrDefault(ctx)

	if err := structValidator.Struct(record); err != nil {
		return DeliveryReceipt{}, fmt.Errorf("invalid changelog: %w", err)
	}

	channel, err := c.session.Channel(target.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return DeliveryReceipt{}, fmt.Errorf("%w: %s: %w", ErrChannelNotFound, target.ChannelID, err)
	}
	if channel == nil {
		return DeliveryReceipt{}, fmt.Errorf("%w: %s", ErrChannelNotFound, target.ChannelID)
	}
	logger.InfoContext(
		ctx,
		"found changelog channel",
		"channel_id", channel.ID,
		"channel_name", channel.Name,
		"guild_id", channel.GuildID,
	)

	receipt := DeliveryReceipt{
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		GuildID:     channel.GuildID,
	}

	lookup := newGuildMemberSearcher(c.session, channel.GuildID)
	resolve := func(s string) string {
		result := ResolveMentions(ctx, s, lookup)
		receipt.ResolvedMentions += len(result.Resolved)
		receipt.MentionLookupFailures += len(result.Failed)
		return result.Text
	}
	resolved := ChangelogRecord{
		Title:          resolve(record.Title),
		ProjectVersion: resolve(record.ProjectVersion),
		Changes:        resolve(record.Changes),
		Footer:         resolve(record.Footer),
	}
	if receipt.MentionLookupFailures > 0 {
		logger.WarnContext(
			ctx,
			"some mentions could not be resolved",
			"failures", receipt.MentionLookupFailures,
		)
	}

	sentAt := c.now().In(c.location)
	msg := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Description: formatChangelogBody(resolved, sentAt),
				Color:       c.color,
			},
		},
	}
	if roleID, ok := target.RoleID.Get(); ok {
		msg.Content = fmt.Sprintf("<@&%s>", roleID)
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{
			Roles: []string{roleID},
		}
	}

	sent, err := c.session.ChannelMessageSendComplex(
		channel.ID,
		msg,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error sending changelog", tint.Err(err))
		return receipt, &DeliveryError{ChannelID: channel.ID, Err: err}
	}
	receipt.SentAt = sentAt
	if sent != nil {
		receipt.MessageID = sent.ID
	}
	logger.InfoContext(ctx, "changelog sent", "receipt", receipt)
	return receipt, nil
}

// formatChangelogBody lays out the changelog embed description:
//
//	**title**
//	project
//	─
//	changes
//	─
//	footer (omitted if blank)
//	DD/MM/YYYY HH:MM
func formatChangelogBody(record ChangelogRecord, sentAt time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n", record.Title)
	sb.WriteString(record.ProjectVersion)
	sb.WriteByte('\n')
	sb.WriteString(changelogSeparator)
	sb.WriteByte('\n')
	sb.WriteString(record.Changes)
	sb.WriteByte('\n')
	sb.WriteString(changelogSeparator)
	if strings.TrimSpace(record.Footer) != "" {
		sb.WriteByte('\n')
		sb.WriteString(record.Footer)
	}
	sb.WriteByte('\n')
	sb.WriteString(sentAt.Format(changelogTimestampLayout))
	return sb.String()
}

// changelogModal returns the modal used to collect a changelog for the
// given target
func changelogModal(target ChangelogTarget) (*discordgo.InteractionResponse, error) {
	customID, err := target.CustomID()
	if err != nil {
		return nil, err
	}
	textInput := func(input discordgo.TextInput) discordgo.MessageComponent {
		return discordgo.ActionsRow{Components: []discordgo.MessageComponent{input}}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID,
			Title:    "📝 Buat Changelog",
			Components: []discordgo.MessageComponent{
				textInput(
					discordgo.TextInput{
						CustomID:    changelogFieldTitle,
						Label:       "Judul",
						Placeholder: "Contoh: Update Games",
						Style:       discordgo.TextInputShort,
						Required:    true,
						MaxLength:   changelogTitleMaxLength,
					},
				),
				textInput(
					discordgo.TextInput{
						CustomID:    changelogFieldProject,
						Label:       "Nama Project & Versi",
						Placeholder: "Contoh: Fish It [v1.1.2] [Major Added]",
						Style:       discordgo.TextInputShort,
						Required:    true,
						MaxLength:   changelogProjectMaxLength,
					},
				),
				textInput(
					discordgo.TextInput{
						CustomID:    changelogFieldChanges,
						Label:       "Daftar Perubahan",
						Placeholder: "[-] Removed feature\n[/] Fixed bug\n[+] Added feature",
						Style:       discordgo.TextInputParagraph,
						Required:    true,
						MaxLength:   changelogChangesMaxLength,
					},
				),
				textInput(
					discordgo.TextInput{
						CustomID:    changelogFieldFooter,
						Label:       "Footer / Teks Tambahan (opsional)",
						Placeholder: "Teks tambahan di bagian bawah...",
						Style:       discordgo.TextInputParagraph,
						Required:    false,
						MaxLength:   changelogFooterMaxLength,
					},
				),
			},
		},
	}, nil
}
