// ABOUTME: Driver abstraction over a remote browser automation backend.
// ABOUTME: Keeps the service logic testable without a live WebDriver server.

package browser

import (
	"context"
	"errors"
	"time"
)

// ErrElementNotFound is returned by drivers when a locator matches nothing.
var ErrElementNotFound = errors.New("element not found")

// ErrNavigationTimeout is returned when a page load exceeds the deadline.
var ErrNavigationTimeout = errors.New("navigation timed out")

// Locator strategies accepted by element operations.
const (
	ByCSS      = "css"
	ByXPath    = "xpath"
	ByID       = "id"
	ByName     = "name"
	ByTag      = "tag"
	ByClass    = "class"
	ByLinkText = "link_text"
)

// PageInfo is a snapshot of the current page.
type PageInfo struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
}

// Element describes one matched element.
type Element struct {
	Tag       string `json:"tag"`
	Text      string `json:"text"`
	Displayed bool   `json:"displayed"`
}

// SessionOptions configures one browser instance.
type SessionOptions struct {
	Headless        bool
	PageLoadTimeout time.Duration
}

// Driver is one live browser instance. Calls are not safe for concurrent
// use; the owning session's exclusivity lock serializes them.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	PageInfo(ctx context.Context, includeSource bool) (*PageInfo, error)
	FindElements(ctx context.Context, by, value string, limit int) ([]Element, error)
	Click(ctx context.Context, by, value string) error
	TypeText(ctx context.Context, by, value, text string, clear bool) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// DriverFactory creates a new browser instance for a session.
type DriverFactory func(ctx context.Context, opts SessionOptions) (Driver, error)
