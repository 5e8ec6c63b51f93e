package groundedsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"torale/internal/logging"
)

// baseClient holds the pieces every OpenAI-compatible call shares: the
// model identifier, the endpoint, a pooled HTTP client, and a logger.
type baseClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// ClientConfig configures the OpenAI-compatible adapter.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OpenAIClient speaks the OpenAI-compatible chat-completions API with a
// web-search tool attached, implementing the three GroundedSearch methods
// as three distinct prompts against the same endpoint.
type OpenAIClient struct {
	baseClient
	apiKey string
}

func NewOpenAIClient(model string, cfg ClientConfig, logger logging.Logger) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseClient: baseClient{
			model:      model,
			baseURL:    baseURL,
			httpClient: &http.Client{Timeout: timeout},
			logger:     logging.OrNop(logger),
		},
		apiKey: cfg.APIKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Tools       []toolSpec    `json:"tools,omitempty"`
}

type toolSpec struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"function"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func webSearchTool() toolSpec {
	t := toolSpec{Type: "function"}
	t.Function.Name = "web_search"
	t.Function.Description = "Search the web for current information relevant to the query."
	return t
}

// complete runs one chat-completions round trip and returns the raw
// assistant message content.
func (c *baseClient) complete(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error) {
	if err := checkTokenBudget(c.model, systemPrompt+userPrompt); err != nil {
		return "", err
	}

	req := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
		Tools:       []toolSpec{webSearchTool()},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	c.logger.Debug("groundedsearch: POST %s model=%s", endpoint, c.model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyLLMError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyLLMError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyLLMError(fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(respBody))
		if repairErr != nil {
			return "", invalidResponse(err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return "", invalidResponse(err)
		}
	}

	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", classifyLLMError(fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", invalidResponse(fmt.Errorf("no choices in response"))
	}

	c.logger.Debug("groundedsearch: response content length=%d", len(parsed.Choices[0].Message.Content))
	return parsed.Choices[0].Message.Content, nil
}

// decodeJSON unmarshals raw into out, running it through jsonrepair once on
// the first failure before giving up and classifying LLMInvalidResponse.
func decodeJSON(raw string, out interface{}) error {
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return invalidResponse(err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return invalidResponse(err)
	}
	return nil
}

type searchResponseSchema struct {
	Answer           string `json:"answer"`
	GroundingSources []struct {
		Title string `json:"title"`
		URI   string `json:"uri"`
	} `json:"grounding_sources"`
	CurrentState json.RawMessage `json:"current_state"`
}

func (c *OpenAIClient) Search(ctx context.Context, query string, cfg Config) (SearchResult, error) {
	system := "You answer questions using live web search. Reply with a JSON object: " +
		`{"answer": "2-4 sentence answer", "grounding_sources": [{"title":"...","uri":"..."}], "current_state": <any JSON capturing the facts you found>}.`
	content, err := c.complete(ctx, c.apiKey, system, query)
	if err != nil {
		return SearchResult{}, err
	}

	var parsed searchResponseSchema
	if err := decodeJSON(content, &parsed); err != nil {
		return SearchResult{}, err
	}

	sources := make([]Source, 0, len(parsed.GroundingSources))
	for _, s := range parsed.GroundingSources {
		sources = append(sources, Source{Title: s.Title, URI: s.URI})
	}

	return SearchResult{
		Answer:           parsed.Answer,
		GroundingSources: sources,
		CurrentState:     parsed.CurrentState,
	}, nil
}

type evaluateResponseSchema struct {
	ConditionMet bool            `json:"condition_met"`
	Evaluation   string          `json:"evaluation"`
	CurrentState json.RawMessage `json:"current_state"`
}

func (c *OpenAIClient) EvaluateCondition(ctx context.Context, answer, conditionDescription string, cfg Config) (EvaluationResult, error) {
	system := "You judge whether a stated condition is met given an answer. Reply with a JSON object: " +
		`{"condition_met": true|false, "evaluation": "short justification", "current_state": <any JSON, same shape as the search state>}.`
	user := fmt.Sprintf("Condition: %s\n\nAnswer: %s", conditionDescription, answer)

	content, err := c.complete(ctx, c.apiKey, system, user)
	if err != nil {
		return EvaluationResult{}, err
	}

	var parsed evaluateResponseSchema
	if err := decodeJSON(content, &parsed); err != nil {
		return EvaluationResult{}, err
	}

	return EvaluationResult{
		ConditionMet: parsed.ConditionMet,
		Evaluation:   parsed.Evaluation,
		CurrentState: parsed.CurrentState,
	}, nil
}

type compareResponseSchema struct {
	Changed       bool   `json:"changed"`
	ChangeSummary string `json:"change_summary"`
}

func (c *OpenAIClient) CompareStates(ctx context.Context, previousState, currentState json.RawMessage, searchQuery string, cfg Config) (ComparisonResult, error) {
	system := "You compare two JSON state snapshots for a monitored query and decide whether they differ in a way material to the user's intent. Reply with a JSON object: " +
		`{"changed": true|false, "change_summary": "one paragraph, empty string if unchanged"}.`
	user := fmt.Sprintf("Query: %s\n\nPrevious state: %s\n\nCurrent state: %s", searchQuery, string(previousState), string(currentState))

	content, err := c.complete(ctx, c.apiKey, system, user)
	if err != nil {
		return ComparisonResult{}, err
	}

	var parsed compareResponseSchema
	if err := decodeJSON(content, &parsed); err != nil {
		return ComparisonResult{}, err
	}

	return ComparisonResult{Changed: parsed.Changed, ChangeSummary: parsed.ChangeSummary}, nil
}

var _ GroundedSearch = (*OpenAIClient)(nil)
