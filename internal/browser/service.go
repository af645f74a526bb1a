// ABOUTME: Browser automation service hosting stateful WebDriver sessions.
// ABOUTME: Serializes per-session operations and bounds backend concurrency.

package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openmcp/openmcp/internal/service"
	"github.com/openmcp/openmcp/internal/session"
)

// Defaults applied when Start settings omit them.
const (
	DefaultMaxSessions     = 4
	DefaultMaxConcurrent   = 4
	DefaultPageLoadTimeout = 30 * time.Second
	DefaultIdleTimeout     = 10 * time.Minute
)

// Options configures the browser service beyond per-start settings.
type Options struct {
	Factory       DriverFactory // required; built from selenium_url when nil
	Logger        *slog.Logger
	WaitTimeout   time.Duration // busy sessions: 0 = fail fast
	SweepInterval time.Duration
	Now           func() time.Time
}

// Service hosts browser sessions behind the shared tool call contract.
type Service struct {
	logger  *slog.Logger
	factory DriverFactory
	opts    Options

	mu       sync.Mutex
	running  bool
	headless bool
	pageLoad time.Duration
	sessions *session.Manager
	drivers  map[string]Driver
	pool     *semaphore.Weighted
}

// New creates a stopped browser service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger.With("component", "browser"),
		factory: opts.Factory,
		opts:    opts,
		drivers: make(map[string]Driver),
	}
}

// Start prepares the service. Recognized settings:
//
//	selenium_url     string  WebDriver endpoint (required unless a factory was injected)
//	max_sessions     int     concurrent session cap (default 4)
//	max_concurrent   int     concurrent backend operations (default 4)
//	headless         bool    default headless mode for new sessions (default true)
//	page_load_timeout string duration, e.g. "30s"
//	idle_timeout     string  duration before idle sessions are evicted
func (s *Service) Start(ctx context.Context, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	factory := s.factory
	if factory == nil {
		url, _ := config["selenium_url"].(string)
		if url == "" {
			return errors.New("selenium_url setting is required")
		}
		factory = NewSeleniumFactory(url)
	}

	maxSessions := settingInt(config, "max_sessions", DefaultMaxSessions)
	maxConcurrent := settingInt(config, "max_concurrent", DefaultMaxConcurrent)
	s.headless = settingBool(config, "headless", true)

	s.pageLoad = DefaultPageLoadTimeout
	if raw, ok := config["page_load_timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing page_load_timeout: %w", err)
		}
		s.pageLoad = d
	}

	idleTimeout := DefaultIdleTimeout
	if raw, ok := config["idle_timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout: %w", err)
		}
		idleTimeout = d
	}

	s.factory = factory
	s.pool = semaphore.NewWeighted(int64(maxConcurrent))
	s.sessions = session.NewManager(session.ManagerConfig{
		Service:     "browser",
		MaxSessions: maxSessions,
		IdleTimeout: idleTimeout,
		Logger:      s.logger,
		Now:         s.opts.Now,
	})
	s.sessions.StartSweeper(s.opts.SweepInterval)
	s.running = true

	s.logger.Info("browser service started",
		"max_sessions", maxSessions,
		"max_concurrent", maxConcurrent,
		"idle_timeout", idleTimeout)
	return nil
}

// Stop closes every open session and releases the backend.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sessions := s.sessions
	s.mu.Unlock()

	sessions.Shutdown(ctx)
	s.logger.Info("browser service stopped")
	return nil
}

// Tools returns the browser tool catalog.
func (s *Service) Tools() []service.ToolDescriptor {
	return toolCatalog
}

// SessionCount returns the number of open sessions. Zero when stopped.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.sessions.Count()
}

// Invoke dispatches one tool call.
func (s *Service) Invoke(ctx context.Context, req *service.ToolCallRequest, progress *service.Emitter) *service.ToolCallResult {
	switch req.Tool {
	case ToolCreateSession:
		return s.createSession(ctx, req)
	case ToolCloseSession:
		return s.closeSession(ctx, req)
	case ToolNavigate:
		return s.withSession(ctx, req, func(d Driver) (*service.ToolCallResult, error) {
			url, err := stringArg(req.Arguments, "url")
			if err != nil {
				return service.FailureErr(service.KindInvalidArgument, err), nil
			}
			progress.Emit(map[string]any{"phase": "navigating", "url": url})
			if err := d.Navigate(ctx, url); err != nil {
				return nil, err
			}
			info, err := d.PageInfo(ctx, false)
			if err != nil {
				return nil, err
			}
			return service.Success(map[string]any{"url": info.URL, "title": info.Title}), nil
		})
	case ToolGetPageInfo:
		return s.withSession(ctx, req, func(d Driver) (*service.ToolCallResult, error) {
			info, err := d.PageInfo(ctx, boolArg(req.Arguments, "include_source", false))
			if err != nil {
				return nil, err
			}
			payload := map[string]any{"url": info.URL, "title": info.Title}
			if info.Source != "" {
				payload["source"] = info.Source
			}
			return service.Success(payload), nil
		})
	case ToolFindElements:
		return s.withSession(ctx, req, func(d Driver) (*service.ToolCallResult, error) {
			by, value, err := locatorArgs(req.Arguments)
			if err != nil {
				return service.FailureErr(service.KindInvalidArgument, err), nil
			}
			limit := intArg(req.Arguments, "limit", 20)
			elements, err := d.FindElements(ctx, by, value, limit)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(elements))
			for _, el := range elements {
				out = append(out, map[string]any{
					"tag":       el.Tag,
					"text":      el.Text,
					"displayed": el.Displayed,
				})
			}
			return service.Success(map[string]any{"count": len(out), "elements": out}), nil
		})
	case ToolClickElement:
		return s.withSession(ctx, req, func(d Driver) (*service.ToolCallResult, error) {
			by, value, err := locatorArgs(req.Arguments)
			if err != nil {
				return service.FailureErr(service.KindInvalidArgument, err), nil
			}
			if err := d.Click(ctx, by, value); err != nil {
				return nil, err
			}
			return service.Success(map[string]any{"clicked": true}), nil
		})
	case ToolTypeText:
		return s.withSession(ctx, req, func(d Driver) (*service.ToolCallResult, error) {
			by, value, err := locatorArgs(req.Arguments)
			if err != nil {
				return service.FailureErr(service.KindInvalidArgument, err), nil
			}
			text, err := stringArg(req.Arguments, "text")
			if err != nil {
				return service.FailureErr(service.KindInvalidArgument, err), nil
			}
			if err := d.TypeText(ctx, by, value, text, boolArg(req.Arguments, "clear", false)); err != nil {
				return nil, err
			}
			return service.Success(map[string]any{"typed": true}), nil
		})
	case ToolTakeScreenshot:
		return s.withSession(ctx, req, func(d Driver) (*service.ToolCallResult, error) {
			progress.Emit(map[string]any{"phase": "capturing"})
			png, err := d.Screenshot(ctx)
			if err != nil {
				return nil, err
			}
			return service.Success(map[string]any{
				"format": "png",
				"data":   base64.StdEncoding.EncodeToString(png),
			}), nil
		})
	default:
		return service.Failure(service.KindUnknownTool, fmt.Sprintf("unknown tool %q", req.Tool))
	}
}

func (s *Service) createSession(ctx context.Context, req *service.ToolCallRequest) *service.ToolCallResult {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return service.Failure(service.KindInternal, "service not running")
	}
	factory := s.factory
	sessions := s.sessions
	opts := SessionOptions{
		Headless:        boolArg(req.Arguments, "headless", s.headless),
		PageLoadTimeout: s.pageLoad,
	}
	s.mu.Unlock()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return service.FailureErr(service.KindCancelled, err)
	}
	driver, err := factory(ctx, opts)
	s.pool.Release(1)
	if err != nil {
		return service.FailureErr(service.KindDriverError, err)
	}

	var sessID string
	sess, err := sessions.Create(func(ctx context.Context) error {
		s.mu.Lock()
		delete(s.drivers, sessID)
		s.mu.Unlock()
		return driver.Close(ctx)
	})
	if err != nil {
		_ = driver.Close(ctx)
		if errors.Is(err, session.ErrLimit) {
			return service.Failure(service.KindSessionLimit, "session limit reached")
		}
		return service.FailureErr(service.KindInternal, err)
	}

	sessID = sess.ID()
	s.mu.Lock()
	s.drivers[sessID] = driver
	s.mu.Unlock()

	s.logger.Info("browser session created", "session_id", sess.ID())
	return service.Success(map[string]any{"session_id": sess.ID()})
}

func (s *Service) closeSession(ctx context.Context, req *service.ToolCallRequest) *service.ToolCallResult {
	id, err := stringArg(req.Arguments, "session_id")
	if err != nil {
		return service.FailureErr(service.KindInvalidArgument, err)
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return service.Failure(service.KindInternal, "service not running")
	}
	sessions := s.sessions
	s.mu.Unlock()

	// The manager waits for the session's lock before invoking the close
	// func, which quits the driver and drops it from the map.
	if err := sessions.Close(ctx, id); err != nil {
		return service.FailureErr(service.KindOperationFailed, err)
	}
	return service.Success(map[string]any{"closed": true})
}

// withSession resolves the session, takes its exclusivity lock, bounds
// backend concurrency, and classifies driver errors.
func (s *Service) withSession(ctx context.Context, req *service.ToolCallRequest, op func(Driver) (*service.ToolCallResult, error)) *service.ToolCallResult {
	id := req.SessionID
	if id == "" {
		var err error
		id, err = stringArg(req.Arguments, "session_id")
		if err != nil {
			return service.FailureErr(service.KindInvalidArgument, err)
		}
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return service.Failure(service.KindInternal, "service not running")
	}
	sessions := s.sessions
	driver := s.drivers[id]
	s.mu.Unlock()

	sess, err := sessions.Get(id)
	if err != nil {
		return service.Failure(service.KindSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	if driver == nil {
		return service.Failure(service.KindSessionNotFound, fmt.Sprintf("session %s not found", id))
	}

	if err := sess.Acquire(ctx, s.opts.WaitTimeout); err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			return service.Failure(service.KindSessionBusy, "an operation is already in flight on this session")
		case errors.Is(err, session.ErrTimeout):
			return service.Failure(service.KindSessionTimeout, "timed out waiting for the session")
		case errors.Is(err, session.ErrClosed):
			return service.Failure(service.KindSessionNotFound, fmt.Sprintf("session %s not found", id))
		default:
			return service.FailureErr(service.KindCancelled, err)
		}
	}
	defer sess.Release()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return service.FailureErr(service.KindCancelled, err)
	}
	defer s.pool.Release(1)

	result, err := op(driver)
	if err != nil {
		return classifyDriverError(err)
	}
	return result
}

func classifyDriverError(err error) *service.ToolCallResult {
	switch {
	case errors.Is(err, ErrElementNotFound):
		return service.FailureErr(service.KindElementNotFound, err)
	case errors.Is(err, ErrNavigationTimeout):
		return service.FailureErr(service.KindNavigationTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return service.FailureErr(service.KindCancelled, err)
	default:
		return service.FailureErr(service.KindDriverError, err)
	}
}

func locatorArgs(args map[string]any) (by, value string, err error) {
	by, err = stringArg(args, "by")
	if err != nil {
		return "", "", err
	}
	if _, ok := locatorStrategies[by]; !ok {
		return "", "", fmt.Errorf("unknown locator strategy %q", by)
	}
	value, err = stringArg(args, "value")
	if err != nil {
		return "", "", err
	}
	return by, value, nil
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

func settingBool(config map[string]any, name string, fallback bool) bool {
	if v, ok := config[name].(bool); ok {
		return v
	}
	return fallback
}
