package changelogbot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	truncatedAnswerMarker = "\n\n... (terpotong)"

	systemInstructionBase = "Kamu adalah asisten AI yang helpful dan up-to-date. " +
		"Hari ini adalah %s. " +
		"Jawab dalam bahasa yang sama dengan pertanyaan user " +
		"(jika Bahasa Indonesia, jawab dalam Bahasa Indonesia)."

	delegatedSearchInstruction = " Gunakan web search untuk mendapatkan informasi terbaru. " +
		"Selalu sebutkan sumber jika memungkinkan."

	webContextInstruction = "Utamakan informasi dari konteks web di atas jika " +
		"bertentangan dengan pengetahuanmu, dan sebutkan sumbernya."

	staleKnowledgeInstruction = "Tidak ada hasil web search untuk pertanyaan ini. " +
		"Jawab dari pengetahuanmu, dan beri tahu user jika informasinya " +
		"mungkin sudah tidak terbaru."
)

// Source is a web page an answer drew on
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Answer is the result of an /ask question
type Answer struct {
	Question      string   `json:"question"`
	Text          string   `json:"text"`
	UsedWebSearch bool     `json:"used_web_search"`
	Sources       []Source `json:"sources,omitempty"`
	Provider      string   `json:"provider"`
}

func (a Answer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", a.Provider),
		slog.Bool("used_web_search", a.UsedWebSearch),
		slog.Int("sources", len(a.Sources)),
		slog.Int("length", len(a.Text)),
	)
}

// ChatCompletionClient is the subset of [openai.Client] used by the
// manual search strategy.
type ChatCompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// GeminiClient is the subset of [genai.Models] used by the delegated
// search strategy.
type GeminiClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// answerStrategy produces an untruncated answer. systemInstruction already
// carries today's date.
type answerStrategy interface {
	answer(ctx context.Context, question string, systemInstruction string) (Answer, error)
	name() string
}

// AIService answers /ask questions using the configured provider
type AIService struct {
	config   *AIConfig
	strategy answerStrategy
	logger   *slog.Logger
	now      func() time.Time
}

// NewAIService creates an AIService for the configured provider. If no
// token is configured, the returned service is valid, but Answer always
// fails with ErrProviderUnconfigured.
func NewAIService(
	ctx context.Context,
	config *AIConfig,
	httpClient *http.Client,
) (*AIService, error) {
	if config == nil {
		return nil, fmt.Errorf("ai config: %w", ErrConfigurationMissing)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := newComponentLogger("ai", config.LogLevel)
	svc := &AIService{config: config, logger: logger, now: time.Now}

	if !config.Configured() {
		logger.Warn("no ai provider token configured, /ask is disabled")
		return svc, nil
	}

	switch config.Provider {
	case ProviderGemini:
		clientCfg := &genai.ClientConfig{
			APIKey:     config.Token,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: httpClient,
		}
		if config.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("error creating gemini client: %w", err)
		}
		svc.strategy = &delegatedSearch{
			client:    client.Models,
			model:     cmp.Or(config.Model, DefaultGeminiModel),
			maxTokens: config.MaxTokens,
		}
	case ProviderGroq, ProviderOpenAI:
		clientCfg := openai.DefaultConfig(config.Token)
		clientCfg.HTTPClient = httpClient
		model := cmp.Or(config.Model, DefaultOpenAIModel)
		if config.Provider == ProviderGroq {
			clientCfg.BaseURL = DefaultGroqBaseURL
			model = cmp.Or(config.Model, DefaultGroqModel)
		}
		if config.BaseURL != "" {
			clientCfg.BaseURL = config.BaseURL
		}
		strategy := &manualSearch{
			provider:   config.Provider,
			client:     openai.NewClientWithConfig(clientCfg),
			model:      model,
			maxTokens:  config.MaxTokens,
			maxResults: config.Search.MaxResults,
			logger:     logger,
		}
		if config.Search.Enabled {
			strategy.searcher = NewDuckDuckGoSearcher(config.Search, httpClient, logger)
		}
		svc.strategy = strategy
	default:
		return nil, fmt.Errorf("unknown ai provider %q", config.Provider)
	}
	logger.Info(
		"ai provider configured",
		"provider", config.Provider,
		"strategy", svc.strategy.name(),
	)
	return svc, nil
}

// Configured reports whether the service has a provider to call
func (s *AIService) Configured() bool {
	return s != nil && s.strategy != nil
}

// ProviderName returns a display name for the configured provider
func (s *AIService) ProviderName() string {
	if s == nil || s.config == nil {
		return ""
	}
	switch s.config.Provider {
	case ProviderGroq:
		return "Groq AI"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderGemini:
		return "Gemini AI"
	default:
		return s.config.Provider
	}
}

// Answer asks the configured provider the given question. Answers over
// the configured maximum length are truncated, with a marker appended.
func (s *AIService) Answer(ctx context.Context, question string) (Answer, error) {
	if !s.Configured() {
		return Answer{Question: question}, ErrProviderUnconfigured
	}
	logger := contextLoggerOrDefault(ctx)

	instruction := fmt.Sprintf(
		systemInstructionBase,
		formatLongDate(s.now(), s.config.DateLocale),
	)

	start := time.Now()
	answer, err := s.strategy.answer(ctx, question, instruction)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"ai provider request failed",
			tint.Err(err),
			"strategy", s.strategy.name(),
			"duration", time.Since(start),
		)
		return Answer{Question: question, Provider: s.ProviderName()}, err
	}
	answer.Question = question
	answer.Provider = s.ProviderName()

	maxLength := s.config.MaxAnswerLength
	if maxLength <= 0 {
		maxLength = DefaultMaxAnswerLength
	}
	answer.Text = truncateWithSuffix(answer.Text, maxLength, truncatedAnswerMarker)

	logger.InfoContext(
		ctx,
		"ai answer received",
		"answer", answer,
		"duration", time.Since(start),
	)
	return answer, nil
}

// delegatedSearch issues one Gemini request with the Google Search tool
// enabled, and lets the model decide whether to search.
type delegatedSearch struct {
	client    GeminiClient
	model     string
	maxTokens int
}

func (*delegatedSearch) name() string {
	return "delegated_search"
}

func (d *delegatedSearch) answer(
	ctx context.Context,
	question string,
	systemInstruction string,
) (Answer, error) {
	resp, err := d.client.GenerateContent(
		ctx,
		d.model,
		genai.Text(question),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(
				systemInstruction+delegatedSearchInstruction,
				genai.RoleUser,
			),
			MaxOutputTokens: int32(d.maxTokens),
			Tools:           []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		},
	)
	if err != nil {
		return Answer{}, &ProviderError{
			Provider: ProviderGemini,
			Message:  providerErrorMessage(err),
			Err:      err,
		}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return Answer{}, &ProviderError{Provider: ProviderGemini, Message: "no candidates returned"}
	}

	candidate := resp.Candidates[0]
	text := candidateText(candidate)
	if strings.TrimSpace(text) == "" {
		return Answer{}, &ProviderError{Provider: ProviderGemini, Message: "empty response"}
	}

	answer := Answer{Text: text}
	if gm := candidate.GroundingMetadata; gm != nil {
		answer.UsedWebSearch = len(gm.WebSearchQueries) > 0 || len(gm.GroundingChunks) > 0
		seen := map[string]struct{}{}
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			if _, ok := seen[chunk.Web.URI]; ok {
				continue
			}
			seen[chunk.Web.URI] = struct{}{}
			answer.Sources = append(
				answer.Sources,
				Source{Title: cmp.Or(chunk.Web.Title, chunk.Web.URI), URL: chunk.Web.URI},
			)
		}
	}
	return answer, nil
}

// candidateText concatenates the candidate's text parts, skipping thoughts
func candidateText(c *genai.Candidate) string {
	if c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// manualSearch runs a web search for the question, and injects the
// results into the prompt of an OpenAI-compatible chat completion.
type manualSearch struct {
	provider   string
	client     ChatCompletionClient
	searcher   WebSearcher
	model      string
	maxTokens  int
	maxResults int
	logger     *slog.Logger
}

func (*manualSearch) name() string {
	return "manual_search"
}

func (m *manualSearch) answer(
	ctx context.Context,
	question string,
	systemInstruction string,
) (Answer, error) {
	results := m.search(ctx, question)

	answer := Answer{}
	var userContent string
	if len(results) > 0 {
		answer.UsedWebSearch = true
		for _, r := range results {
			answer.Sources = append(answer.Sources, Source{Title: r.Title, URL: r.URL})
		}
		userContent = webContextPrompt(question, results)
	} else {
		userContent = fmt.Sprintf("%s\n\n%s", question, staleKnowledgeInstruction)
	}

	resp, err := m.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     m.model,
			MaxTokens: m.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
				{Role: openai.ChatMessageRoleUser, Content: userContent},
			},
		},
	)
	if err != nil {
		return Answer{}, &ProviderError{
			Provider: m.provider,
			Message:  providerErrorMessage(err),
			Err:      err,
		}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Answer{}, &ProviderError{Provider: m.provider, Message: "empty response"}
	}
	answer.Text = resp.Choices[0].Message.Content
	return answer, nil
}

// search returns web results for the question. Search failures are
// logged and treated the same as zero results.
func (m *manualSearch) search(ctx context.Context, question string) []SearchResult {
	if m.searcher == nil {
		return nil
	}
	limit := m.maxResults
	if limit <= 0 {
		limit = DefaultSearchMaxResults
	}
	results, err := m.searcher.Search(ctx, question, limit)
	if err != nil {
		m.logger.WarnContext(ctx, "web search failed, answering without it", tint.Err(err))
		return nil
	}
	return results
}

// webContextPrompt builds the user message carrying search results
func webContextPrompt(question string, results []SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Konteks dari web search:\n\n")
	for idx, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n", idx+1, r.Title)
		if r.Snippet != "" {
			sb.WriteString(r.Snippet)
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "URL: %s\n\n", r.URL)
	}
	fmt.Fprintf(&sb, "Pertanyaan: %s\n\n%s", question, webContextInstruction)
	return sb.String()
}

// providerErrorMessage extracts the upstream message from go-openai and
// genai errors, so it can be shown to the user as-is. Anything else, such
// as a transport error, is shown with its own error text.
func providerErrorMessage(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) && geminiErr.Message != "" {
		return geminiErr.Message
	}
	var geminiErrPtr *genai.APIError
	if errors.As(err, &geminiErrPtr) && geminiErrPtr != nil && geminiErrPtr.Message != "" {
		return geminiErrPtr.Message
	}
	return err.Error()
}
