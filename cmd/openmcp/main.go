// ABOUTME: Entry point for the openmcp tool server
// ABOUTME: Hosts browser, websearch, and webcrawler services over REST, SSE, and MCP

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/config"
	"github.com/openmcp/openmcp/internal/server"
	"github.com/openmcp/openmcp/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___  _ __   ___ _ __  _ __ ___   ___ _ __
 / _ \| '_ \ / _ \ '_ \| '_ ' _ \ / __| '_ \
| (_) | |_) |  __/ | | | | | | | | (__| |_) |
 \___/| .__/ \___|_| |_|_| |_| |_|\___| .__/
      |_|                             |_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: openmcp <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                   Start the tool server")
		fmt.Println("  init                    Create a new config file interactively")
		fmt.Println("  keys <create|list|revoke>  Manage API keys")
		fmt.Println("  stdio                   Serve MCP over stdin/stdout")
		fmt.Println("  health                  Check server health")
		fmt.Println("  version                 Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "keys":
		err = runKeys(ctx)
	case "stdio":
		err = runStdio(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	for _, svc := range cfg.Services {
		if svc.Enabled {
			green.Print("    ▶ ")
			fmt.Printf("Service:  %s\n", svc.Name)
		}
	}
	fmt.Println()

	logger.Info("starting openmcp",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// runStdio serves MCP over stdin/stdout for local agent hosts. The process
// gets the loopback capability set; no HTTP server is started.
func runStdio(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Log to stderr: stdout carries the protocol stream.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	return server.RunStdio(ctx, cfg, logger, os.Stdin, os.Stdout)
}

func runKeys(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: openmcp keys <create|list|revoke>")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	gate := auth.NewGate(auth.Config{Keys: s})

	switch os.Args[2] {
	case "create":
		return runKeysCreate(ctx, gate)
	case "list":
		return runKeysList(ctx, gate)
	case "revoke":
		return runKeysRevoke(ctx, gate)
	default:
		return fmt.Errorf("unknown keys command: %s", os.Args[2])
	}
}

func runKeysCreate(ctx context.Context, gate *auth.Gate) error {
	// Supports both "--name value" and "--name=value" formats.
	var name, capsArg, ttlArg string
	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		case arg == "--caps" || arg == "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--caps requires a value")
			}
			capsArg = args[i+1]
			i++
		case strings.HasPrefix(arg, "--caps="):
			capsArg = strings.TrimPrefix(arg, "--caps=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			ttlArg = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			ttlArg = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}

	capabilities := []string{auth.CapabilityAll}
	if capsArg != "" {
		capabilities = strings.Split(capsArg, ",")
		for i := range capabilities {
			capabilities[i] = strings.TrimSpace(capabilities[i])
		}
	}

	var ttl time.Duration
	if ttlArg != "" {
		parsed, err := time.ParseDuration(ttlArg)
		if err != nil || parsed < 0 {
			return fmt.Errorf("invalid --ttl value: %s", ttlArg)
		}
		ttl = parsed
	}

	plaintext, record, err := gate.IssueKey(ctx, name, capabilities, ttl)
	if err != nil {
		return fmt.Errorf("creating key: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Println("  Key created. Store it now; it will not be shown again.")
	fmt.Println()
	fmt.Printf("  ID:           %s\n", record.ID)
	fmt.Printf("  Name:         %s\n", record.Name)
	fmt.Printf("  Capabilities: %s\n", strings.Join(record.Capabilities, ", "))
	if record.ExpiresAt != nil {
		fmt.Printf("  Expires:      %s\n", record.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("  Key:          %s\n", plaintext)
	return nil
}

func runKeysList(ctx context.Context, gate *auth.Gate) error {
	keys, err := gate.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No keys.")
		return nil
	}

	fmt.Printf("%-10s %-20s %-24s %-10s %s\n", "ID", "NAME", "CAPABILITIES", "STATUS", "CREATED")
	for _, k := range keys {
		status := "active"
		switch {
		case k.Revoked:
			status = "revoked"
		case k.Expired(time.Now()):
			status = "expired"
		}
		fmt.Printf("%-10s %-20s %-24s %-10s %s\n",
			k.ID, k.Name, strings.Join(k.Capabilities, ","), status,
			k.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runKeysRevoke(ctx context.Context, gate *auth.Gate) error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: openmcp keys revoke <id>")
	}
	id := os.Args[3]
	if err := gate.RevokeKey(ctx, id); err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	fmt.Printf("Key %s revoked.\n", id)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var health map[string]any
	if err := json.Unmarshal(body, &health); err == nil {
		green := color.New(color.FgGreen)
		green.Print("  ✓ ")
		fmt.Printf("Server healthy at %s\n", cfg.Server.HTTPAddr)
		return nil
	}
	fmt.Printf("Server responded at %s\n", cfg.Server.HTTPAddr)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("openmcp configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultPath := config.DefaultPath()
	outputFile := prompt(reader, "Config file path", defaultPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "127.0.0.1:8765")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(filepath.Dir(outputFile), "openmcp.db"))

	fmt.Println("\n--- Auth Configuration ---")
	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	loopback := prompt(reader, "Allow unauthenticated loopback access?", "yes")
	allowLoopback := strings.ToLower(loopback) == "yes" || strings.ToLower(loopback) == "y"

	fmt.Println("\n--- Services ---")
	seleniumURL := prompt(reader, "Selenium WebDriver URL (empty to disable browser)", "http://127.0.0.1:4444/wd/hub")
	serperKey := prompt(reader, "Serper API key (empty to disable websearch)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# openmcp configuration\n")
	cfg.WriteString("# Generated by openmcp init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	cfg.WriteString(fmt.Sprintf("  allow_loopback: %t\n", allowLoopback))
	cfg.WriteString("  bootstrap_key: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  idle_timeout: \"10m\"\n")
	cfg.WriteString("  sweep_interval: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("services:\n")
	if seleniumURL != "" {
		cfg.WriteString("  - name: browser\n")
		cfg.WriteString("    enabled: true\n")
		cfg.WriteString("    settings:\n")
		cfg.WriteString(fmt.Sprintf("      selenium_url: %q\n", seleniumURL))
	}
	if serperKey != "" {
		cfg.WriteString("  - name: websearch\n")
		cfg.WriteString("    enabled: true\n")
		cfg.WriteString("    settings:\n")
		cfg.WriteString(fmt.Sprintf("      api_key: %q\n", serperKey))
	}
	cfg.WriteString("  - name: webcrawler\n")
	cfg.WriteString("    enabled: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  openmcp serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
