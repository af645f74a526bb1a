// ABOUTME: Tests for the websearch service against a stubbed upstream API.
// ABOUTME: Verifies request shaping, result mapping, and error classification.

package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openmcp/openmcp/internal/service"
)

func stubUpstream(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	svc := New(nil)
	err := svc.Start(context.Background(), map[string]any{
		"api_key":  "test-key",
		"endpoint": upstream.URL,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc
}

func TestSearchSuccess(t *testing.T) {
	var gotBody serperRequest
	var gotAPIKey string
	svc := stubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-KEY")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{
				{"title": "Go", "link": "https://go.dev", "snippet": "The Go programming language", "position": 1},
				{"title": "Go docs", "link": "https://go.dev/doc", "snippet": "Documentation", "position": 2},
			},
			"answerBox": map[string]any{"title": "Go", "answer": "A programming language"},
		})
	})

	result := svc.Invoke(context.Background(), &service.ToolCallRequest{
		Tool:      ToolSearch,
		Arguments: map[string]any{"query": "golang", "num_results": float64(5), "country": "us"},
	}, nil)

	if !result.OK {
		t.Fatalf("search failed: %+v", result.Err)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("api key not forwarded: %q", gotAPIKey)
	}
	if gotBody.Query != "golang" || gotBody.Num != 5 || gotBody.Country != "us" {
		t.Errorf("unexpected upstream request: %+v", gotBody)
	}
	if result.Payload["count"] != 2 {
		t.Errorf("unexpected count: %v", result.Payload["count"])
	}
	results, _ := result.Payload["results"].([]map[string]any)
	if len(results) != 2 || results[0]["url"] != "https://go.dev" {
		t.Errorf("unexpected results: %v", results)
	}
	if _, ok := result.Payload["answer"]; !ok {
		t.Error("answer box not surfaced")
	}
}

func TestSearchUpstreamError(t *testing.T) {
	svc := stubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	result := svc.Invoke(context.Background(), &service.ToolCallRequest{
		Tool:      ToolSearch,
		Arguments: map[string]any{"query": "golang"},
	}, nil)

	if result.OK || result.Err.Kind != service.KindOperationFailed {
		t.Fatalf("expected operation_failed, got %+v", result)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	svc := stubUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	result := svc.Invoke(context.Background(), &service.ToolCallRequest{Tool: ToolSearch}, nil)
	if result.OK || result.Err.Kind != service.KindInvalidArgument {
		t.Fatalf("expected invalid_argument, got %+v", result)
	}
}

func TestSearchResultCountBounds(t *testing.T) {
	svc := stubUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	result := svc.Invoke(context.Background(), &service.ToolCallRequest{
		Tool:      ToolSearch,
		Arguments: map[string]any{"query": "x", "num_results": float64(500)},
	}, nil)
	if result.OK || result.Err.Kind != service.KindInvalidArgument {
		t.Fatalf("expected invalid_argument, got %+v", result)
	}
}

func TestStartRequiresAPIKey(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "")
	svc := New(nil)
	if err := svc.Start(context.Background(), nil); err == nil {
		t.Fatal("expected start error without api key")
	}
}

func TestStartAPIKeyFromEnv(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "env-key")
	svc := New(nil)
	if err := svc.Start(context.Background(), nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if svc.apiKey != "env-key" {
		t.Errorf("env key not picked up: %q", svc.apiKey)
	}
}

func TestUnknownTool(t *testing.T) {
	svc := stubUpstream(t, func(w http.ResponseWriter, r *http.Request) {})
	result := svc.Invoke(context.Background(), &service.ToolCallRequest{Tool: "mystery"}, nil)
	if result.OK || result.Err.Kind != service.KindUnknownTool {
		t.Fatalf("expected unknown_tool, got %+v", result)
	}
}

func TestStopDuringInFlightSearch(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	svc := stubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{{"title": "Go", "link": "https://go.dev", "position": 1}},
		})
	})

	done := make(chan *service.ToolCallResult, 1)
	go func() {
		done <- svc.Invoke(context.Background(), &service.ToolCallRequest{
			Tool:      ToolSearch,
			Arguments: map[string]any{"query": "golang"},
		}, nil)
	}()

	<-entered
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	close(release)

	result := <-done
	if !result.OK {
		t.Fatalf("in-flight search failed after stop: %+v", result.Err)
	}

	followUp := svc.Invoke(context.Background(), &service.ToolCallRequest{
		Tool:      ToolSearch,
		Arguments: map[string]any{"query": "golang"},
	}, nil)
	if followUp.OK || followUp.Err.Kind != service.KindInternal {
		t.Fatalf("expected internal error after stop, got %+v", followUp)
	}
}
