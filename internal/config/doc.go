// Package config handles configuration loading for openmcp.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from OPENMCP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/openmcp/openmcp.yaml
//  3. ~/.config/openmcp/openmcp.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${OPENMCP_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  idle_timeout: "10m"
//	  sweep_interval: "1m"
//	  wait_timeout: "2s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8765"
//
// Database:
//
//	database:
//	  path: "/var/lib/openmcp/openmcp.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${OPENMCP_JWT_SECRET}"
//	  allow_loopback: true      # skip auth for localhost clients
//	  loopback_capabilities:    # capabilities granted to loopback clients
//	    - "*"
//	  bootstrap_key: true       # mint an admin key on first start
//
// Sessions:
//
//	sessions:
//	  idle_timeout: "10m"   # evict sessions idle longer than this
//	  sweep_interval: "1m"  # how often the sweeper runs
//	  wait_timeout: "0s"    # 0 means busy sessions fail fast
//
// Services:
//
//	services:
//	  - name: browser
//	    enabled: true
//	    settings:
//	      selenium_url: "http://localhost:4444/wd/hub"
//	      max_sessions: 4
//	  - name: websearch
//	    enabled: true
//	    settings:
//	      api_key: "${SERPER_API_KEY}"
//	  - name: webcrawler
//	    enabled: true
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
