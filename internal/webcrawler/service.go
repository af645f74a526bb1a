// ABOUTME: Web crawler service fetching pages and extracting structured content.
// ABOUTME: Stateless; parses HTML with goquery into text, metadata, and links.

package webcrawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openmcp/openmcp/internal/service"
)

// DefaultTimeout bounds one page fetch.
const DefaultTimeout = 20 * time.Second

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 2 << 20 // 2 MiB

// DefaultMaxTextChars caps extracted text length in the payload.
const DefaultMaxTextChars = 20000

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Tool names exposed by the webcrawler service.
const ToolCrawlPage = "crawl_page"

// Service fetches and parses single pages.
type Service struct {
	logger *slog.Logger

	mu      sync.Mutex
	client  *http.Client
	maxBody int64
	maxText int
	running bool
}

// New creates a stopped webcrawler service.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger.With("component", "webcrawler")}
}

// Start reads settings. Recognized keys:
//
//	timeout        string  duration for page fetches
//	max_body_bytes int     response body read cap
//	max_text_chars int     extracted text length cap
func (s *Service) Start(ctx context.Context, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	timeout := DefaultTimeout
	if raw, ok := config["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		timeout = d
	}

	s.maxBody = int64(settingInt(config, "max_body_bytes", DefaultMaxBodyBytes))
	s.maxText = settingInt(config, "max_text_chars", DefaultMaxTextChars)
	s.client = &http.Client{Timeout: timeout}
	s.running = true
	s.logger.Info("webcrawler service started", "timeout", timeout)
	return nil
}

// Stop releases the client.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("webcrawler service stopped")
	return nil
}

// Tools returns the crawler tool catalog.
func (s *Service) Tools() []service.ToolDescriptor {
	return []service.ToolDescriptor{{
		Name:        ToolCrawlPage,
		Description: "Fetch a page and extract its text, metadata, links, and images",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "Page URL to fetch"},
				"include_links": {"type": "boolean", "default": true},
				"include_images": {"type": "boolean", "default": false},
				"selector": {"type": "string", "description": "Restrict text extraction to a CSS selector"}
			},
			"required": ["url"]
		}`),
	}}
}

// Invoke dispatches one tool call.
func (s *Service) Invoke(ctx context.Context, req *service.ToolCallRequest, progress *service.Emitter) *service.ToolCallResult {
	if req.Tool != ToolCrawlPage {
		return service.Failure(service.KindUnknownTool, fmt.Sprintf("unknown tool %q", req.Tool))
	}

	// Snapshot the settings so a concurrent Stop or restart cannot change
	// them mid-call.
	s.mu.Lock()
	running, client, maxBody, maxText := s.running, s.client, s.maxBody, s.maxText
	s.mu.Unlock()
	if !running {
		return service.Failure(service.KindInternal, "service not running")
	}

	rawURL, _ := req.Arguments["url"].(string)
	if rawURL == "" {
		return service.Failure(service.KindInvalidArgument, "url must be a non-empty string")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return service.Failure(service.KindInvalidArgument, "url must be absolute http or https")
	}

	progress.Emit(map[string]any{"phase": "fetching", "url": rawURL})

	doc, finalURL, err := fetch(ctx, client, maxBody, rawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return service.FailureErr(service.KindCancelled, err)
		}
		return service.FailureErr(service.KindOperationFailed, err)
	}

	progress.Emit(map[string]any{"phase": "extracting"})

	payload := map[string]any{
		"url":      finalURL,
		"title":    strings.TrimSpace(doc.Find("title").First().Text()),
		"metadata": extractMetadata(doc),
	}

	textRoot := doc.Selection
	if selector, _ := req.Arguments["selector"].(string); selector != "" {
		textRoot = doc.Find(selector)
		if textRoot.Length() == 0 {
			return service.Failure(service.KindOperationFailed, fmt.Sprintf("selector %q matched nothing", selector))
		}
	}
	payload["text"] = extractText(textRoot, maxText)

	if v, ok := req.Arguments["include_links"].(bool); !ok || v {
		payload["links"] = extractLinks(doc, finalURL)
	}
	if v, _ := req.Arguments["include_images"].(bool); v {
		payload["images"] = extractImages(doc, finalURL)
	}

	return service.Success(payload)
}

func fetch(ctx context.Context, client *http.Client, maxBody int64, rawURL string) (*goquery.Document, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, "", fmt.Errorf("parsing page: %w", err)
	}
	return doc, resp.Request.URL.String(), nil
}

// extractText pulls visible text, collapsing runs of whitespace and dropping
// script and style content.
func extractText(root *goquery.Selection, maxText int) string {
	clone := root.Clone()
	clone.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(clone.Text()), " ")
	if maxText > 0 && len(text) > maxText {
		text = text[:maxText]
	}
	return text
}

func extractMetadata(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name, _ = sel.Attr("property")
		}
		content, _ := sel.Attr("content")
		if name != "" && content != "" {
			meta[name] = content
		}
	})
	return meta
}

func extractLinks(doc *goquery.Document, base string) []map[string]string {
	baseURL, _ := url.Parse(base)
	links := make([]map[string]string, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved := resolveURL(baseURL, href)
		if resolved == "" {
			return
		}
		links = append(links, map[string]string{
			"url":  resolved,
			"text": strings.TrimSpace(sel.Text()),
		})
	})
	return links
}

func extractImages(doc *goquery.Document, base string) []map[string]string {
	baseURL, _ := url.Parse(base)
	images := make([]map[string]string, 0)
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		resolved := resolveURL(baseURL, src)
		if resolved == "" {
			return
		}
		alt, _ := sel.Attr("alt")
		images = append(images, map[string]string{
			"url": resolved,
			"alt": alt,
		})
	})
	return images
}

// resolveURL makes a possibly relative reference absolute against the page
// URL. Fragments and javascript pseudo-links are dropped.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}

func settingInt(config map[string]any, name string, fallback int) int {
	switch v := config[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
