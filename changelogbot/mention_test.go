package changelogbot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

// staticSearcher returns the candidate registered for each query, and
// counts lookups
type staticSearcher struct {
	candidates map[string]MemberCandidate
	errs       map[string]error
	calls      map[string]int
}

func newStaticSearcher() *staticSearcher {
	return &staticSearcher{
		candidates: map[string]MemberCandidate{},
		errs:       map[string]error{},
		calls:      map[string]int{},
	}
}

func (s *staticSearcher) SearchMembers(
	_ context.Context,
	query string,
	limit int,
) ([]MemberCandidate, error) {
	s.calls[query]++
	if limit != 1 {
		return nil, errStubUpstream
	}
	if err := s.errs[query]; err != nil {
		return nil, err
	}
	if c, ok := s.candidates[query]; ok {
		return []MemberCandidate{c}, nil
	}
	return nil, nil
}

func TestResolveMentions(t *testing.T) {
	ctx := context.Background()

	t.Run(
		"username match", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["alice"] = MemberCandidate{ID: "111", Username: "alice"}

			rv := ResolveMentions(ctx, "Thanks @alice for the fix", s)
			assert.Equal(t, "Thanks <@111> for the fix", rv.Text)
			assert.Equal(t, map[string]string{"alice": "111"}, rv.Resolved)
			assert.False(t, rv.Partial())
		},
	)

	t.Run(
		"case-insensitive nickname match", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["Bob"] = MemberCandidate{ID: "222", Username: "robert", Nickname: "bob"}

			rv := ResolveMentions(ctx, "cc @Bob", s)
			assert.Equal(t, "cc <@222>", rv.Text)
		},
	)

	t.Run(
		"display name match", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["carol"] = MemberCandidate{ID: "333", Username: "c4r0l", DisplayName: "Carol"}

			rv := ResolveMentions(ctx, "@carol", s)
			assert.Equal(t, "<@333>", rv.Text)
		},
	)

	t.Run(
		"prefix candidate is not a match", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["ali"] = MemberCandidate{ID: "111", Username: "alice"}

			rv := ResolveMentions(ctx, "hi @ali", s)
			assert.Equal(t, "hi @ali", rv.Text)
			assert.Equal(t, []string{"ali"}, rv.Unmatched)
			assert.Empty(t, rv.Resolved)
		},
	)

	t.Run(
		"no candidates", func(t *testing.T) {
			s := newStaticSearcher()
			rv := ResolveMentions(ctx, "hi @nobody", s)
			assert.Equal(t, "hi @nobody", rv.Text)
			assert.Equal(t, []string{"nobody"}, rv.Unmatched)
		},
	)

	t.Run(
		"lookup failure leaves token verbatim", func(t *testing.T) {
			s := newStaticSearcher()
			s.errs["dave"] = errStubUpstream
			s.candidates["erin"] = MemberCandidate{ID: "555", Username: "erin"}

			rv := ResolveMentions(ctx, "@dave and @erin", s)
			assert.Equal(t, "@dave and <@555>", rv.Text)
			assert.True(t, rv.Partial())
			require.Len(t, rv.Failed, 1)
			assert.Equal(t, "dave", rv.Failed[0].Token)
			assert.ErrorIs(t, rv.Failed[0].Err, errStubUpstream)
		},
	)

	t.Run(
		"repeated token looked up once", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["alice"] = MemberCandidate{ID: "111", Username: "alice"}

			rv := ResolveMentions(ctx, "@alice, @alice and @alice", s)
			assert.Equal(t, "<@111>, <@111> and <@111>", rv.Text)
			assert.Equal(t, 1, s.calls["alice"])
		},
	)

	t.Run(
		"longer tokens resolved first", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["ann"] = MemberCandidate{ID: "1", Username: "ann"}
			s.candidates["ann.lee"] = MemberCandidate{ID: "2", Username: "ann.lee"}

			rv := ResolveMentions(ctx, "@ann and @ann.lee", s)
			assert.Equal(t, "<@1> and <@2>", rv.Text)
		},
	)

	t.Run(
		"emitted mentions are not rewritten", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["opsteam"] = MemberCandidate{ID: "111", Username: "opsteam"}
			s.candidates["111"] = MemberCandidate{ID: "999", Username: "111"}

			rv := ResolveMentions(ctx, "@opsteam and @111", s)
			assert.Equal(t, "<@111> and <@999>", rv.Text)
			assert.Equal(t, map[string]string{"opsteam": "111", "111": "999"}, rv.Resolved)
		},
	)

	t.Run(
		"existing raw mentions are left alone", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["111"] = MemberCandidate{ID: "999", Username: "111"}

			rv := ResolveMentions(ctx, "<@111> pinged @111", s)
			assert.Equal(t, "<@111> pinged <@999>", rv.Text)
			assert.Equal(t, 1, s.calls["111"])
		},
	)

	t.Run(
		"token embedded in a word", func(t *testing.T) {
			s := newStaticSearcher()
			s.candidates["example"] = MemberCandidate{ID: "9", Username: "example"}

			rv := ResolveMentions(ctx, "mail me@example", s)
			assert.Equal(t, "mail me<@9>", rv.Text)
		},
	)

	t.Run(
		"no tokens", func(t *testing.T) {
			s := newStaticSearcher()
			rv := ResolveMentions(ctx, "nothing to see", s)
			assert.Equal(t, "nothing to see", rv.Text)
			assert.Empty(t, s.calls)
		},
	)

	t.Run(
		"nil lookup", func(t *testing.T) {
			rv := ResolveMentions(ctx, "@alice", nil)
			assert.Equal(t, "@alice", rv.Text)
		},
	)
}

func TestResolveMentions_MemberSearcherFunc(t *testing.T) {
	var queries []string
	lookup := MemberSearcherFunc(
		func(_ context.Context, query string, _ int) ([]MemberCandidate, error) {
			queries = append(queries, query)
			return []MemberCandidate{{ID: strings.ToUpper(query), Username: query}}, nil
		},
	)
	rv := ResolveMentions(context.Background(), "@x @yy", lookup)
	assert.Equal(t, "<@X> <@YY>", rv.Text)
	assert.Equal(t, []string{"yy", "x"}, queries)
}

func TestGuildMemberSearcher(t *testing.T) {
	session := newMockDiscordSession()
	session.members["alice"] = []*discordgo.Member{
		{Nick: "Ali", User: &discordgo.User{ID: "111", Username: "alice", GlobalName: "Alice A"}},
	}

	assert.Nil(t, newGuildMemberSearcher(session, ""))

	searcher := newGuildMemberSearcher(session, "guild")
	require.NotNil(t, searcher)
	candidates, err := searcher.SearchMembers(context.Background(), "alice", 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(
		t,
		MemberCandidate{ID: "111", Username: "alice", Nickname: "Ali", DisplayName: "Alice A"},
		candidates[0],
	)

	session.memberSearchErr["bob"] = errStubUpstream
	_, err = searcher.SearchMembers(context.Background(), "bob", 1)
	assert.ErrorIs(t, err, errStubUpstream)
}
