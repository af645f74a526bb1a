// ABOUTME: Web search service backed by the Serper JSON API.
// ABOUTME: Stateless; every tool call is one upstream search request.

package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/openmcp/openmcp/internal/service"
)

// DefaultEndpoint is the Serper search endpoint.
const DefaultEndpoint = "https://google.serper.dev/search"

// DefaultTimeout bounds one upstream search request.
const DefaultTimeout = 15 * time.Second

// DefaultResultCount is the number of results returned when the caller does
// not ask for a specific count.
const DefaultResultCount = 10

const maxResultCount = 50

// Tool names exposed by the websearch service.
const ToolSearch = "search"

// Service performs web searches through the Serper API.
type Service struct {
	logger *slog.Logger

	mu       sync.Mutex
	apiKey   string
	endpoint string
	client   *http.Client
	running  bool
}

// New creates a stopped websearch service.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger.With("component", "websearch")}
}

// Start reads settings. Recognized keys:
//
//	api_key  string  Serper API key; falls back to SERPER_API_KEY
//	endpoint string  override for tests
//	timeout  string  duration for upstream requests
func (s *Service) Start(ctx context.Context, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	apiKey, _ := config["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("SERPER_API_KEY")
	}
	if apiKey == "" {
		return errors.New("api_key setting or SERPER_API_KEY is required")
	}

	endpoint, _ := config["endpoint"].(string)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	timeout := DefaultTimeout
	if raw, ok := config["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		timeout = d
	}

	s.apiKey = apiKey
	s.endpoint = endpoint
	s.client = &http.Client{Timeout: timeout}
	s.running = true
	s.logger.Info("websearch service started", "endpoint", endpoint)
	return nil
}

// Stop releases the client.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("websearch service stopped")
	return nil
}

// Tools returns the search tool catalog.
func (s *Service) Tools() []service.ToolDescriptor {
	return []service.ToolDescriptor{{
		Name:        ToolSearch,
		Description: "Search the web and return ranked results with snippets",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"num_results": {"type": "integer", "description": "Number of results (max 50)", "default": 10},
				"country": {"type": "string", "description": "Two-letter country code, e.g. us"},
				"language": {"type": "string", "description": "Two-letter language code, e.g. en"}
			},
			"required": ["query"]
		}`),
	}}
}

// serperRequest is the upstream request body.
type serperRequest struct {
	Query    string `json:"q"`
	Num      int    `json:"num,omitempty"`
	Country  string `json:"gl,omitempty"`
	Language string `json:"hl,omitempty"`
}

// serperResponse covers the parts of the upstream response we surface.
type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
	AnswerBox *struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Title   string `json:"title"`
	} `json:"answerBox"`
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"knowledgeGraph"`
}

// Invoke dispatches one tool call.
func (s *Service) Invoke(ctx context.Context, req *service.ToolCallRequest, progress *service.Emitter) *service.ToolCallResult {
	if req.Tool != ToolSearch {
		return service.Failure(service.KindUnknownTool, fmt.Sprintf("unknown tool %q", req.Tool))
	}

	// Snapshot the settings so a concurrent Stop or restart cannot change
	// them mid-call.
	s.mu.Lock()
	running, client, apiKey, endpoint := s.running, s.client, s.apiKey, s.endpoint
	s.mu.Unlock()
	if !running {
		return service.Failure(service.KindInternal, "service not running")
	}

	query, _ := req.Arguments["query"].(string)
	if query == "" {
		return service.Failure(service.KindInvalidArgument, "query must be a non-empty string")
	}

	num := DefaultResultCount
	switch v := req.Arguments["num_results"].(type) {
	case int:
		num = v
	case float64:
		num = int(v)
	}
	if num < 1 || num > maxResultCount {
		return service.Failure(service.KindInvalidArgument, fmt.Sprintf("num_results must be between 1 and %d", maxResultCount))
	}

	country, _ := req.Arguments["country"].(string)
	language, _ := req.Arguments["language"].(string)

	progress.Emit(map[string]any{"phase": "searching", "query": query})

	resp, err := s.search(ctx, client, endpoint, apiKey, serperRequest{Query: query, Num: num, Country: country, Language: language})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return service.FailureErr(service.KindCancelled, err)
		}
		return service.FailureErr(service.KindOperationFailed, err)
	}

	results := make([]map[string]any, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		results = append(results, map[string]any{
			"title":    r.Title,
			"url":      r.Link,
			"snippet":  r.Snippet,
			"position": r.Position,
		})
	}

	payload := map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	}
	if resp.AnswerBox != nil {
		payload["answer"] = map[string]any{
			"title":   resp.AnswerBox.Title,
			"answer":  resp.AnswerBox.Answer,
			"snippet": resp.AnswerBox.Snippet,
		}
	}
	if resp.KnowledgeGraph != nil {
		payload["knowledge_graph"] = map[string]any{
			"title":       resp.KnowledgeGraph.Title,
			"type":        resp.KnowledgeGraph.Type,
			"description": resp.KnowledgeGraph.Description,
		}
	}
	return service.Success(payload)
}

func (s *Service) search(ctx context.Context, client *http.Client, endpoint, apiKey string, sr serperRequest) (*serperResponse, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("search API returned %d: %s", httpResp.StatusCode, snippet)
	}

	var resp serperResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &resp, nil
}
