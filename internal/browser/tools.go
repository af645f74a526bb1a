// ABOUTME: Tool catalog for the browser service with JSON schemas.
// ABOUTME: Argument parsing helpers shared by the tool handlers.

package browser

import (
	"encoding/json"
	"fmt"

	"github.com/openmcp/openmcp/internal/service"
)

// Tool names exposed by the browser service.
const (
	ToolCreateSession  = "create_session"
	ToolNavigate       = "navigate"
	ToolGetPageInfo    = "get_page_info"
	ToolFindElements   = "find_elements"
	ToolClickElement   = "click_element"
	ToolTypeText       = "type_text"
	ToolTakeScreenshot = "take_screenshot"
	ToolCloseSession   = "close_session"
)

var locatorEnum = `["css","xpath","id","name","tag","class","link_text"]`

var toolCatalog = []service.ToolDescriptor{
	{
		Name:        ToolCreateSession,
		Description: "Start a new browser session and return its session_id",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"headless": {"type": "boolean", "description": "Run without a visible window", "default": true}
			}
		}`),
	},
	{
		Name:        ToolNavigate,
		Description: "Navigate the session's browser to a URL",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"url": {"type": "string", "description": "Absolute URL to load"}
			},
			"required": ["session_id", "url"]
		}`),
	},
	{
		Name:        ToolGetPageInfo,
		Description: "Return the current URL and title, optionally with page source",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"include_source": {"type": "boolean", "default": false}
			},
			"required": ["session_id"]
		}`),
	},
	{
		Name:        ToolFindElements,
		Description: "Find elements matching a locator and return their tag and text",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"by": {"type": "string", "enum": ` + locatorEnum + `},
				"value": {"type": "string", "description": "Locator expression"},
				"limit": {"type": "integer", "description": "Maximum elements to return", "default": 20}
			},
			"required": ["session_id", "by", "value"]
		}`),
	},
	{
		Name:        ToolClickElement,
		Description: "Click the first element matching a locator",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"by": {"type": "string", "enum": ` + locatorEnum + `},
				"value": {"type": "string"}
			},
			"required": ["session_id", "by", "value"]
		}`),
	},
	{
		Name:        ToolTypeText,
		Description: "Type text into the first element matching a locator",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"by": {"type": "string", "enum": ` + locatorEnum + `},
				"value": {"type": "string"},
				"text": {"type": "string"},
				"clear": {"type": "boolean", "description": "Clear the field first", "default": false}
			},
			"required": ["session_id", "by", "value", "text"]
		}`),
	},
	{
		Name:        ToolTakeScreenshot,
		Description: "Capture a PNG screenshot of the current page, base64-encoded",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"}
			},
			"required": ["session_id"]
		}`),
	},
	{
		Name:        ToolCloseSession,
		Description: "Close a browser session and release its resources",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"}
			},
			"required": ["session_id"]
		}`),
	},
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", name)
	}
	return s, nil
}

// boolArg extracts an optional boolean argument.
func boolArg(args map[string]any, name string, fallback bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return fallback
}

// intArg extracts an optional integer argument. JSON numbers decode as
// float64, so both are accepted.
func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
