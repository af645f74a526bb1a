// ABOUTME: Tests for the browser service using an instrumented fake driver.
// ABOUTME: Covers session lifecycle, exclusivity, busy policy, and error kinds.

package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmcp/openmcp/internal/service"
)

// fakeDriver is an in-memory Driver that records calls and can inject
// failures and latency.
type fakeDriver struct {
	mu         sync.Mutex
	currentURL string
	closed     bool
	closeErr   error
	navErr     error
	findErr    error
	opDelay    time.Duration

	inFlight    atomic.Int32
	reentered   atomic.Bool
	closedMidOp atomic.Bool
}

func (d *fakeDriver) begin() {
	if d.inFlight.Add(1) > 1 {
		d.reentered.Store(true)
	}
	if d.opDelay > 0 {
		time.Sleep(d.opDelay)
	}
}

func (d *fakeDriver) end() { d.inFlight.Add(-1) }

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.begin()
	defer d.end()
	if d.navErr != nil {
		return d.navErr
	}
	d.mu.Lock()
	d.currentURL = url
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) PageInfo(ctx context.Context, includeSource bool) (*PageInfo, error) {
	d.begin()
	defer d.end()
	d.mu.Lock()
	defer d.mu.Unlock()
	info := &PageInfo{URL: d.currentURL, Title: "Fake Page"}
	if includeSource {
		info.Source = "<html></html>"
	}
	return info, nil
}

func (d *fakeDriver) FindElements(ctx context.Context, by, value string, limit int) ([]Element, error) {
	d.begin()
	defer d.end()
	if d.findErr != nil {
		return nil, d.findErr
	}
	return []Element{{Tag: "a", Text: "link", Displayed: true}}, nil
}

func (d *fakeDriver) Click(ctx context.Context, by, value string) error {
	d.begin()
	defer d.end()
	return d.findErr
}

func (d *fakeDriver) TypeText(ctx context.Context, by, value, text string, clear bool) error {
	d.begin()
	defer d.end()
	return d.findErr
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.begin()
	defer d.end()
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (d *fakeDriver) Close(ctx context.Context) error {
	if d.inFlight.Load() > 0 {
		d.closedMidOp.Store(true)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}

// newFakeService starts a browser service backed by fake drivers. Every
// created session gets its own driver; the slice records them in order.
func newFakeService(t *testing.T, opts Options) (*Service, *[]*fakeDriver) {
	t.Helper()
	var drivers []*fakeDriver
	var mu sync.Mutex
	opts.Factory = func(ctx context.Context, _ SessionOptions) (Driver, error) {
		d := &fakeDriver{}
		mu.Lock()
		drivers = append(drivers, d)
		mu.Unlock()
		return d, nil
	}
	svc := New(opts)
	if err := svc.Start(context.Background(), map[string]any{"max_sessions": 2}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc, &drivers
}

func invoke(t *testing.T, svc *Service, tool string, args map[string]any) *service.ToolCallResult {
	t.Helper()
	result := svc.Invoke(context.Background(), &service.ToolCallRequest{Tool: tool, Arguments: args}, nil)
	if result == nil {
		t.Fatalf("nil result from %s", tool)
	}
	return result
}

func createSession(t *testing.T, svc *Service) string {
	t.Helper()
	result := invoke(t, svc, ToolCreateSession, nil)
	if !result.OK {
		t.Fatalf("create_session failed: %+v", result.Err)
	}
	id, _ := result.Payload["session_id"].(string)
	if id == "" {
		t.Fatal("empty session_id")
	}
	return id
}

func TestCreateAndNavigate(t *testing.T) {
	svc, drivers := newFakeService(t, Options{})
	id := createSession(t, svc)

	result := invoke(t, svc, ToolNavigate, map[string]any{"session_id": id, "url": "https://example.com"})
	if !result.OK {
		t.Fatalf("navigate failed: %+v", result.Err)
	}
	if result.Payload["url"] != "https://example.com" {
		t.Errorf("unexpected url: %v", result.Payload["url"])
	}
	if (*drivers)[0].currentURL != "https://example.com" {
		t.Errorf("driver did not navigate: %q", (*drivers)[0].currentURL)
	}
}

func TestSessionNotFound(t *testing.T) {
	svc, _ := newFakeService(t, Options{})
	result := invoke(t, svc, ToolGetPageInfo, map[string]any{"session_id": "nope"})
	if result.OK || result.Err.Kind != service.KindSessionNotFound {
		t.Fatalf("expected session_not_found, got %+v", result)
	}
}

func TestSessionLimit(t *testing.T) {
	svc, _ := newFakeService(t, Options{})
	createSession(t, svc)
	createSession(t, svc)

	result := invoke(t, svc, ToolCreateSession, nil)
	if result.OK || result.Err.Kind != service.KindSessionLimit {
		t.Fatalf("expected session_limit, got %+v", result)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	svc, drivers := newFakeService(t, Options{})
	id := createSession(t, svc)

	if result := invoke(t, svc, ToolCloseSession, map[string]any{"session_id": id}); !result.OK {
		t.Fatalf("close failed: %+v", result.Err)
	}
	if !(*drivers)[0].closed {
		t.Error("driver not closed")
	}
	// Closing again succeeds.
	if result := invoke(t, svc, ToolCloseSession, map[string]any{"session_id": id}); !result.OK {
		t.Fatalf("second close failed: %+v", result.Err)
	}
	// But using the session does not.
	result := invoke(t, svc, ToolGetPageInfo, map[string]any{"session_id": id})
	if result.OK || result.Err.Kind != service.KindSessionNotFound {
		t.Fatalf("expected session_not_found after close, got %+v", result)
	}
}

func TestBusyFailFast(t *testing.T) {
	svc, drivers := newFakeService(t, Options{})
	id := createSession(t, svc)
	(*drivers)[0].opDelay = 100 * time.Millisecond

	started := make(chan struct{})
	done := make(chan struct{})
	var slow *service.ToolCallResult
	go func() {
		close(started)
		slow = svc.Invoke(context.Background(), &service.ToolCallRequest{
			Tool:      ToolNavigate,
			Arguments: map[string]any{"session_id": id, "url": "https://slow.test"},
		}, nil)
		close(done)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	result := invoke(t, svc, ToolGetPageInfo, map[string]any{"session_id": id})
	if result.OK || result.Err.Kind != service.KindSessionBusy {
		t.Fatalf("expected session_busy, got %+v", result)
	}

	// Wait for the slow call, then the session is usable again.
	<-done
	if slow == nil || !slow.OK {
		t.Fatalf("slow navigate failed: %+v", slow)
	}
	if result := invoke(t, svc, ToolGetPageInfo, map[string]any{"session_id": id}); !result.OK {
		t.Fatalf("post-busy call failed: %+v", result.Err)
	}
	if (*drivers)[0].reentered.Load() {
		t.Error("driver saw concurrent operations")
	}
}

func TestBusyBoundedWait(t *testing.T) {
	svc, drivers := newFakeService(t, Options{WaitTimeout: time.Second})
	id := createSession(t, svc)
	(*drivers)[0].opDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*service.ToolCallResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Invoke(context.Background(), &service.ToolCallRequest{
				Tool:      ToolGetPageInfo,
				Arguments: map[string]any{"session_id": id},
			}, nil)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if !r.OK {
			t.Errorf("call %d failed: %+v", i, r.Err)
		}
	}
	if (*drivers)[0].reentered.Load() {
		t.Error("driver saw concurrent operations")
	}
}

func TestBusyWaitTimeout(t *testing.T) {
	svc, drivers := newFakeService(t, Options{WaitTimeout: 20 * time.Millisecond})
	id := createSession(t, svc)
	(*drivers)[0].opDelay = 200 * time.Millisecond

	go svc.Invoke(context.Background(), &service.ToolCallRequest{
		Tool:      ToolGetPageInfo,
		Arguments: map[string]any{"session_id": id},
	}, nil)
	time.Sleep(10 * time.Millisecond)

	result := invoke(t, svc, ToolGetPageInfo, map[string]any{"session_id": id})
	if result.OK || result.Err.Kind != service.KindSessionTimeout {
		t.Fatalf("expected session_timeout, got %+v", result)
	}
}

func TestDriverErrorKinds(t *testing.T) {
	svc, drivers := newFakeService(t, Options{})
	id := createSession(t, svc)

	(*drivers)[0].findErr = ErrElementNotFound
	result := invoke(t, svc, ToolClickElement, map[string]any{"session_id": id, "by": "css", "value": "#gone"})
	if result.OK || result.Err.Kind != service.KindElementNotFound {
		t.Fatalf("expected element_not_found, got %+v", result)
	}

	(*drivers)[0].navErr = ErrNavigationTimeout
	result = invoke(t, svc, ToolNavigate, map[string]any{"session_id": id, "url": "https://slow.test"})
	if result.OK || result.Err.Kind != service.KindNavigationTimeout {
		t.Fatalf("expected navigation_timeout, got %+v", result)
	}

	(*drivers)[0].navErr = errors.New("chrome crashed")
	result = invoke(t, svc, ToolNavigate, map[string]any{"session_id": id, "url": "https://x.test"})
	if result.OK || result.Err.Kind != service.KindDriverError {
		t.Fatalf("expected driver_error, got %+v", result)
	}
}

func TestInvalidArguments(t *testing.T) {
	svc, _ := newFakeService(t, Options{})
	id := createSession(t, svc)

	result := invoke(t, svc, ToolNavigate, map[string]any{"session_id": id})
	if result.OK || result.Err.Kind != service.KindInvalidArgument {
		t.Fatalf("expected invalid_argument for missing url, got %+v", result)
	}

	result = invoke(t, svc, ToolFindElements, map[string]any{"session_id": id, "by": "sorcery", "value": "x"})
	if result.OK || result.Err.Kind != service.KindInvalidArgument {
		t.Fatalf("expected invalid_argument for bad locator, got %+v", result)
	}
}

func TestUnknownTool(t *testing.T) {
	svc, _ := newFakeService(t, Options{})
	result := invoke(t, svc, "teleport", nil)
	if result.OK || result.Err.Kind != service.KindUnknownTool {
		t.Fatalf("expected unknown_tool, got %+v", result)
	}
}

func TestStopClosesAllSessions(t *testing.T) {
	svc, drivers := newFakeService(t, Options{})
	createSession(t, svc)
	createSession(t, svc)

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	for i, d := range *drivers {
		if !d.closed {
			t.Errorf("driver %d not closed on stop", i)
		}
	}
	if svc.SessionCount() != 0 {
		t.Errorf("expected 0 sessions after stop, got %d", svc.SessionCount())
	}
}

func TestScreenshotBase64(t *testing.T) {
	svc, _ := newFakeService(t, Options{})
	id := createSession(t, svc)

	result := invoke(t, svc, ToolTakeScreenshot, map[string]any{"session_id": id})
	if !result.OK {
		t.Fatalf("screenshot failed: %+v", result.Err)
	}
	if result.Payload["format"] != "png" {
		t.Errorf("unexpected format: %v", result.Payload["format"])
	}
	if data, _ := result.Payload["data"].(string); data == "" {
		t.Error("empty screenshot data")
	}
}

func TestCloseWaitsForInFlightOperation(t *testing.T) {
	svc, drivers := newFakeService(t, Options{})
	id := createSession(t, svc)
	(*drivers)[0].opDelay = 100 * time.Millisecond

	started := make(chan struct{})
	navDone := make(chan *service.ToolCallResult, 1)
	go func() {
		close(started)
		navDone <- svc.Invoke(context.Background(), &service.ToolCallRequest{
			Tool:      ToolNavigate,
			Arguments: map[string]any{"session_id": id, "url": "https://slow.test"},
		}, nil)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	// Close must wait for the navigation, not quit the driver under it.
	result := invoke(t, svc, ToolCloseSession, map[string]any{"session_id": id})
	if !result.OK {
		t.Fatalf("close failed: %+v", result.Err)
	}

	select {
	case nav := <-navDone:
		if nav == nil || !nav.OK {
			t.Fatalf("navigate failed: %+v", nav)
		}
	case <-time.After(time.Second):
		t.Fatal("navigate did not finish")
	}

	if (*drivers)[0].closedMidOp.Load() {
		t.Error("driver closed while an operation was in flight")
	}
	if !(*drivers)[0].closed {
		t.Error("driver not closed")
	}
}
