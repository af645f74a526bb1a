// Package browser is the browser automation service. It hosts stateful
// WebDriver sessions and exposes them through the shared tool call contract.
//
// # Sessions
//
// Each create_session call starts one remote browser instance and returns an
// opaque session_id. All later tool calls name the session they target. A
// session admits one operation at a time: concurrent calls either fail fast
// with session_busy or wait up to the configured bound. Idle sessions are
// evicted in the background and their browser instances released.
//
// # Backend
//
// The production driver talks to a Selenium or chromedriver endpoint via
// github.com/tebeka/selenium. The Driver interface keeps the service logic
// independent of the backend so tests run against an in-memory fake. Driver
// calls block; a weighted semaphore bounds how many run at once across all
// sessions.
package browser
