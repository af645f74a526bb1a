// ABOUTME: Stdio mode that serves MCP over stdin/stdout without HTTP
// ABOUTME: Builds a registry from config and runs the newline-delimited transport

package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/browser"
	"github.com/openmcp/openmcp/internal/config"
	"github.com/openmcp/openmcp/internal/mcpserver"
	"github.com/openmcp/openmcp/internal/registry"
	"github.com/openmcp/openmcp/internal/webcrawler"
	"github.com/openmcp/openmcp/internal/websearch"
)

// RunStdio serves the MCP protocol over the given reader and writer until
// the context is canceled or the input stream closes. The process acts as
// a single local client and gets the configured loopback capability set;
// no key store or HTTP server is involved.
func RunStdio(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	reg := registry.NewRegistry(logger.With("component", "registry"))

	browserSvc := browser.New(browser.Options{
		Logger:        logger,
		WaitTimeout:   cfg.Sessions.WaitTimeout,
		SweepInterval: cfg.Sessions.SweepInterval,
	})
	if err := reg.Register("browser", browserSvc); err != nil {
		return err
	}
	if err := reg.Register("websearch", websearch.New(logger)); err != nil {
		return err
	}
	if err := reg.Register("webcrawler", webcrawler.New(logger)); err != nil {
		return err
	}

	for _, svcCfg := range cfg.Services {
		if !svcCfg.Enabled {
			continue
		}
		if err := reg.Start(ctx, svcCfg.Name, svcCfg.Settings); err != nil {
			logger.Error("service failed to start", "service", svcCfg.Name, "error", err)
		}
	}
	defer reg.StopAll(context.Background())

	caps := cfg.Auth.LoopbackCapabilities
	if len(caps) == 0 {
		caps = []string{auth.CapabilityAll}
	}
	perms := &auth.PermissionSet{Name: "stdio", Capabilities: caps}

	return mcpserver.NewStdioServer(reg, perms, in, out, logger).Run(ctx)
}
