package changelogbot

import (
	"context"
	"errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type stubChatClient struct {
	requests []openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (s *stubChatClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, request)
	return s.response, s.err
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

type stubWebSearcher struct {
	queries []string
	results []SearchResult
	err     error
}

func (s *stubWebSearcher) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

type stubGeminiClient struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	response *genai.GenerateContentResponse
	err      error
}

func (s *stubGeminiClient) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	s.model = model
	s.contents = contents
	s.config = config
	return s.response, s.err
}

// stubStrategy returns a fixed answer, recording the system instruction
type stubStrategy struct {
	text        string
	err         error
	instruction string
}

func (s *stubStrategy) answer(_ context.Context, _ string, systemInstruction string) (Answer, error) {
	s.instruction = systemInstruction
	return Answer{Text: s.text}, s.err
}

func (*stubStrategy) name() string {
	return "stub"
}

func newTestAIService(t testing.TB, strategy answerStrategy) *AIService {
	t.Helper()
	cfg := DefaultConfig().AI
	cfg.Token = t.Name()
	return &AIService{
		config:   cfg,
		strategy: strategy,
		logger:   slog.Default(),
		now: func() time.Time {
			return time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)
		},
	}
}

func TestNewAIService_Unconfigured(t *testing.T) {
	cfg := DefaultConfig().AI
	svc, err := NewAIService(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, svc.Configured())
	assert.Equal(t, "Groq AI", svc.ProviderName())

	_, err = svc.Answer(context.Background(), "halo")
	assert.ErrorIs(t, err, ErrProviderUnconfigured)
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestNewAIService_NilConfig(t *testing.T) {
	_, err := NewAIService(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrConfigurationMissing)

	var svc *AIService
	assert.False(t, svc.Configured())
}

func TestNewAIService_Providers(t *testing.T) {
	tests := []struct {
		provider      string
		expectedName  string
		expectedModel string
		strategy      string
	}{
		{ProviderGroq, "Groq AI", DefaultGroqModel, "manual_search"},
		{ProviderOpenAI, "OpenAI", DefaultOpenAIModel, "manual_search"},
		{ProviderGemini, "Gemini AI", DefaultGeminiModel, "delegated_search"},
	}
	for _, tc := range tests {
		t.Run(
			tc.provider, func(t *testing.T) {
				cfg := DefaultConfig().AI
				cfg.Provider = tc.provider
				cfg.Token = "token_" + tc.provider

				svc, err := NewAIService(context.Background(), cfg, nil)
				require.NoError(t, err)
				require.True(t, svc.Configured())
				assert.Equal(t, tc.expectedName, svc.ProviderName())
				assert.Equal(t, tc.strategy, svc.strategy.name())

				switch s := svc.strategy.(type) {
				case *manualSearch:
					assert.Equal(t, tc.expectedModel, s.model)
					assert.NotNil(t, s.searcher)
				case *delegatedSearch:
					assert.Equal(t, tc.expectedModel, s.model)
				}
			},
		)
	}
}

func TestNewAIService_SearchDisabled(t *testing.T) {
	cfg := DefaultConfig().AI
	cfg.Token = t.Name()
	cfg.Search.Enabled = false
	cfg.Model = "custom-model"

	svc, err := NewAIService(context.Background(), cfg, nil)
	require.NoError(t, err)
	strategy, ok := svc.strategy.(*manualSearch)
	require.True(t, ok)
	assert.Nil(t, strategy.searcher)
	assert.Equal(t, "custom-model", strategy.model)
}

func TestNewAIService_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig().AI
	cfg.Token = t.Name()
	cfg.Provider = "claude"
	_, err := NewAIService(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestAIService_Answer(t *testing.T) {
	strategy := &stubStrategy{text: "Jakarta"}
	svc := newTestAIService(t, strategy)

	answer, err := svc.Answer(context.Background(), "Apa ibukota Indonesia?")
	require.NoError(t, err)
	assert.Equal(t, "Apa ibukota Indonesia?", answer.Question)
	assert.Equal(t, "Jakarta", answer.Text)
	assert.Equal(t, "Groq AI", answer.Provider)
	assert.Contains(t, strategy.instruction, "Hari ini adalah Kamis, 15 Oktober 2026.")
}

func TestAIService_AnswerEnglishDate(t *testing.T) {
	strategy := &stubStrategy{text: "ok"}
	svc := newTestAIService(t, strategy)
	svc.config.DateLocale = "en"

	_, err := svc.Answer(context.Background(), "what day is it?")
	require.NoError(t, err)
	assert.Contains(t, strategy.instruction, "Thursday, October 15, 2026")
}

func TestAIService_AnswerTruncated(t *testing.T) {
	svc := newTestAIService(t, &stubStrategy{text: strings.Repeat("a", 5000)})

	answer, err := svc.Answer(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", DefaultMaxAnswerLength)+"\n\n... (terpotong)", answer.Text)

	svc = newTestAIService(t, &stubStrategy{text: strings.Repeat("b", DefaultMaxAnswerLength)})
	answer, err = svc.Answer(context.Background(), "exact")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", DefaultMaxAnswerLength), answer.Text)
}

func TestAIService_AnswerError(t *testing.T) {
	svc := newTestAIService(
		t,
		&stubStrategy{err: &ProviderError{Provider: ProviderGroq, Message: "boom"}},
	)
	answer, err := svc.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	assert.Equal(t, "Groq AI", answer.Provider)
	assert.Empty(t, answer.Text)
}

func TestManualSearch_WithResults(t *testing.T) {
	client := &stubChatClient{response: chatResponse("Go 1.25 dirilis Agustus 2025.")}
	searcher := &stubWebSearcher{
		results: []SearchResult{
			{Title: "Go 1.25 Release Notes", URL: "https://go.dev/doc/go1.25", Snippet: "Go 1.25 is released"},
			{Title: "Go blog", URL: "https://go.dev/blog"},
		},
	}
	strategy := &manualSearch{
		provider:  ProviderGroq,
		client:    client,
		searcher:  searcher,
		model:     DefaultGroqModel,
		maxTokens: 512,
		logger:    slog.Default(),
	}

	answer, err := strategy.answer(context.Background(), "kapan go 1.25 rilis?", "SYSTEM")
	require.NoError(t, err)
	assert.Equal(t, "Go 1.25 dirilis Agustus 2025.", answer.Text)
	assert.True(t, answer.UsedWebSearch)
	assert.Equal(
		t,
		[]Source{
			{Title: "Go 1.25 Release Notes", URL: "https://go.dev/doc/go1.25"},
			{Title: "Go blog", URL: "https://go.dev/blog"},
		},
		answer.Sources,
	)

	assert.Equal(t, []string{"kapan go 1.25 rilis?"}, searcher.queries)
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, DefaultGroqModel, req.Model)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "SYSTEM", req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Contains(t, req.Messages[1].Content, "[1] Go 1.25 Release Notes")
	assert.Contains(t, req.Messages[1].Content, "URL: https://go.dev/doc/go1.25")
	assert.Contains(t, req.Messages[1].Content, "Pertanyaan: kapan go 1.25 rilis?")
}

func TestManualSearch_SearchFailureIsNotFatal(t *testing.T) {
	client := &stubChatClient{response: chatResponse("jawaban")}
	strategy := &manualSearch{
		provider: ProviderGroq,
		client:   client,
		searcher: &stubWebSearcher{err: errStubUpstream},
		logger:   slog.Default(),
	}

	answer, err := strategy.answer(context.Background(), "pertanyaan", "SYSTEM")
	require.NoError(t, err)
	assert.False(t, answer.UsedWebSearch)
	assert.Empty(t, answer.Sources)
	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0].Messages[1].Content, staleKnowledgeInstruction)
}

func TestManualSearch_NoSearcher(t *testing.T) {
	client := &stubChatClient{response: chatResponse("jawaban")}
	strategy := &manualSearch{provider: ProviderOpenAI, client: client, logger: slog.Default()}

	answer, err := strategy.answer(context.Background(), "pertanyaan", "SYSTEM")
	require.NoError(t, err)
	assert.False(t, answer.UsedWebSearch)
}

func TestManualSearch_ProviderError(t *testing.T) {
	client := &stubChatClient{
		err: &openai.APIError{Message: "Rate limit reached", HTTPStatusCode: 429},
	}
	strategy := &manualSearch{provider: ProviderGroq, client: client, logger: slog.Default()}

	_, err := strategy.answer(context.Background(), "q", "SYSTEM")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "Rate limit reached", providerErr.Message)
}

func TestProviderErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "openai api error",
			err:  &openai.APIError{Message: "Rate limit reached", HTTPStatusCode: 429},
			want: "Rate limit reached",
		},
		{
			name: "openai request error",
			err: &openai.RequestError{
				HTTPStatusCode: 503,
				Err:            errors.New("error, status code: 503, message: upstream overloaded"),
			},
			want: "error, status code: 503, message: upstream overloaded",
		},
		{
			name: "gemini api error",
			err: genai.APIError{
				Code:    429,
				Message: "Resource has been exhausted (e.g. check quota).",
				Status:  "RESOURCE_EXHAUSTED",
			},
			want: "Resource has been exhausted (e.g. check quota).",
		},
		{
			name: "gemini api error pointer",
			err:  &genai.APIError{Code: 403, Message: "API key not valid", Status: "PERMISSION_DENIED"},
			want: "API key not valid",
		},
		{
			name: "transport error",
			err:  errors.New(`Post "https://api.groq.com": dial tcp: lookup api.groq.com: no such host`),
			want: `Post "https://api.groq.com": dial tcp: lookup api.groq.com: no such host`,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.want, providerErrorMessage(tc.err))
			},
		)
	}
}

func TestManualSearch_EmptyResponse(t *testing.T) {
	client := &stubChatClient{response: chatResponse("   ")}
	strategy := &manualSearch{provider: ProviderGroq, client: client, logger: slog.Default()}

	_, err := strategy.answer(context.Background(), "q", "SYSTEM")
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	client.response = openai.ChatCompletionResponse{}
	_, err = strategy.answer(context.Background(), "q", "SYSTEM")
	assert.ErrorIs(t, err, ErrUpstreamFailure)
}

func TestDelegatedSearch(t *testing.T) {
	client := &stubGeminiClient{
		response: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{
						Parts: []*genai.Part{
							{Text: "thinking...", Thought: true},
							{Text: "Timnas menang "},
							{Text: "2-1."},
						},
					},
					GroundingMetadata: &genai.GroundingMetadata{
						WebSearchQueries: []string{"skor timnas"},
						GroundingChunks: []*genai.GroundingChunk{
							{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A"}},
							{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A again"}},
							{Web: &genai.GroundingChunkWeb{URI: "https://b.example"}},
							{},
						},
					},
				},
			},
		},
	}
	strategy := &delegatedSearch{client: client, model: DefaultGeminiModel, maxTokens: 1024}

	answer, err := strategy.answer(context.Background(), "skor timnas?", "SYSTEM")
	require.NoError(t, err)
	assert.Equal(t, "Timnas menang 2-1.", answer.Text)
	assert.True(t, answer.UsedWebSearch)
	assert.Equal(
		t,
		[]Source{
			{Title: "A", URL: "https://a.example"},
			{Title: "https://b.example", URL: "https://b.example"},
		},
		answer.Sources,
	)

	assert.Equal(t, DefaultGeminiModel, client.model)
	require.Len(t, client.contents, 1)
	assert.Equal(t, "skor timnas?", client.contents[0].Parts[0].Text)
	require.NotNil(t, client.config)
	assert.Equal(t, int32(1024), client.config.MaxOutputTokens)
	require.Len(t, client.config.Tools, 1)
	assert.NotNil(t, client.config.Tools[0].GoogleSearch)
	require.NotNil(t, client.config.SystemInstruction)
	assert.Equal(
		t,
		"SYSTEM"+delegatedSearchInstruction,
		client.config.SystemInstruction.Parts[0].Text,
	)
}

func TestDelegatedSearch_NoGrounding(t *testing.T) {
	client := &stubGeminiClient{
		response: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: genai.NewContentFromText("2+2=4", genai.RoleModel)},
			},
		},
	}
	strategy := &delegatedSearch{client: client, model: DefaultGeminiModel}

	answer, err := strategy.answer(context.Background(), "2+2?", "SYSTEM")
	require.NoError(t, err)
	assert.Equal(t, "2+2=4", answer.Text)
	assert.False(t, answer.UsedWebSearch)
	assert.Empty(t, answer.Sources)
}

func TestDelegatedSearch_Errors(t *testing.T) {
	strategy := &delegatedSearch{client: &stubGeminiClient{err: errStubUpstream}}
	_, err := strategy.answer(context.Background(), "q", "SYSTEM")
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	assert.ErrorIs(t, err, errStubUpstream)
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, errStubUpstream.Error(), providerErr.Message)

	quota := genai.APIError{
		Code:    429,
		Message: "Quota exceeded for generate_content_free_tier_requests",
		Status:  "RESOURCE_EXHAUSTED",
	}
	strategy = &delegatedSearch{client: &stubGeminiClient{err: quota}}
	_, err = strategy.answer(context.Background(), "q", "SYSTEM")
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, ProviderGemini, providerErr.Provider)
	assert.Equal(t, quota.Message, providerErr.Message)

	strategy = &delegatedSearch{client: &stubGeminiClient{response: &genai.GenerateContentResponse{}}}
	_, err = strategy.answer(context.Background(), "q", "SYSTEM")
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	strategy = &delegatedSearch{
		client: &stubGeminiClient{
			response: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("", genai.RoleModel)}},
			},
		},
	}
	_, err = strategy.answer(context.Background(), "q", "SYSTEM")
	assert.ErrorIs(t, err, ErrUpstreamFailure)
}
