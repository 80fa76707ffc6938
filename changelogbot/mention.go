package changelogbot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var mentionPattern = regexp.MustCompile(`@([\w.]+)`)

// MemberCandidate is a guild member returned by a name search
type MemberCandidate struct {
	ID          string
	Username    string
	Nickname    string
	DisplayName string
}

// matches reports whether the username, nickname or display name
// case-insensitively equals name.
func (m MemberCandidate) matches(name string) bool {
	for _, n := range []string{m.Username, m.Nickname, m.DisplayName} {
		if n != "" && strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// MemberSearcher searches a guild's membership by name
type MemberSearcher interface {
	SearchMembers(ctx context.Context, query string, limit int) ([]MemberCandidate, error)
}

// MemberSearcherFunc adapts a function to MemberSearcher
type MemberSearcherFunc func(ctx context.Context, query string, limit int) ([]MemberCandidate, error)

func (f MemberSearcherFunc) SearchMembers(
	ctx context.Context,
	query string,
	limit int,
) ([]MemberCandidate, error) {
	return f(ctx, query, limit)
}

// MentionFailure records a token whose member lookup returned an error
type MentionFailure struct {
	Token string
	Err   error
}

// MentionResult is the outcome of ResolveMentions. Lookup errors don't
// fail resolution; the affected tokens are left verbatim and listed in
// Failed.
type MentionResult struct {
	Text string

	// Resolved maps each replaced token (without the '@') to a member ID
	Resolved map[string]string

	// Unmatched lists tokens whose lookup succeeded without a match
	Unmatched []string

	Failed []MentionFailure
}

// Partial reports whether any lookup failed
func (r MentionResult) Partial() bool {
	return len(r.Failed) > 0
}

// ResolveMentions rewrites @name tokens in text into <@memberID> mentions.
//
// Each distinct token is looked up once, sequentially, with a limit of one
// candidate. The candidate is accepted only if its username, nickname or
// display name equals the name, ignoring case. On a match, every
// occurrence of the literal token is replaced, including ones embedded in
// longer words. Longer tokens take precedence, so "@ann.lee" isn't
// clobbered by a match for "@ann". Existing <@id> mentions are left alone.
func ResolveMentions(ctx context.Context, text string, lookup MemberSearcher) MentionResult {
	result := MentionResult{Text: text, Resolved: map[string]string{}}
	if text == "" || lookup == nil {
		return result
	}

	logger := contextLoggerOrDefault(ctx)

	seen := map[string]struct{}{}
	var names []string
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		if isRawMention(text, loc[0]) {
			continue
		}
		name := text[loc[2]:loc[3]]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.SliceStable(
		names, func(i, j int) bool {
			return utf8.RuneCountInString(names[i]) > utf8.RuneCountInString(names[j])
		},
	)

	for _, name := range names {
		candidates, err := lookup.SearchMembers(ctx, name, 1)
		if err != nil {
			logger.WarnContext(ctx, "member search failed", "name", name, tint.Err(err))
			result.Failed = append(result.Failed, MentionFailure{Token: name, Err: err})
			continue
		}
		if len(candidates) == 0 || !candidates[0].matches(name) {
			result.Unmatched = append(result.Unmatched, name)
			continue
		}
		result.Resolved[name] = candidates[0].ID
	}
	if len(result.Resolved) > 0 {
		result.Text = replaceMentions(text, names, result.Resolved)
	}
	return result
}

// isRawMention reports whether the '@' at pos opens an existing <@id>
// mention
func isRawMention(text string, pos int) bool {
	return pos > 0 && text[pos-1] == '<'
}

// replaceMentions rewrites text in a single pass, replacing each '@'
// followed by a resolved name with its mention. names must be ordered
// longest first. Emitted mentions are never rescanned.
func replaceMentions(text string, names []string, resolved map[string]string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); {
		if text[i] != '@' || isRawMention(text, i) {
			sb.WriteByte(text[i])
			i++
			continue
		}
		replaced := false
		for _, name := range names {
			id, ok := resolved[name]
			if !ok || !strings.HasPrefix(text[i+1:], name) {
				continue
			}
			sb.WriteString("<@" + id + ">")
			i += 1 + len(name)
			replaced = true
			break
		}
		if !replaced {
			sb.WriteByte('@')
			i++
		}
	}
	return sb.String()
}

// guildMemberSearcher searches a single guild's members via the Discord API
type guildMemberSearcher struct {
	session DiscordSessionHandler
	guildID string
}

func newGuildMemberSearcher(session DiscordSessionHandler, guildID string) MemberSearcher {
	if session == nil || guildID == "" {
		return nil
	}
	return guildMemberSearcher{session: session, guildID: guildID}
}

func (g guildMemberSearcher) SearchMembers(
	ctx context.Context,
	query string,
	limit int,
) ([]MemberCandidate, error) {
	members, err := g.session.GuildMembersSearch(
		g.guildID,
		query,
		limit,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	candidates := make([]MemberCandidate, 0, len(members))
	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}
		candidates = append(
			candidates,
			MemberCandidate{
				ID:          m.User.ID,
				Username:    m.User.Username,
				Nickname:    m.Nick,
				DisplayName: m.User.GlobalName,
			},
		)
	}
	return candidates, nil
}
