// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the daemon's environment-driven configuration.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/netrunner/netrunner/pkg/errors"
)

// Config is the full daemon configuration.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	// AppAddress is the externally reachable base URL, used to assemble
	// result links in notifications.
	AppAddress string

	// AuthToken, when set, is required as a bearer token on every API call.
	AuthToken string

	// JWTSecret, when set, enables JWT bearer verification instead of the
	// static token.
	JWTSecret string

	// StateBackend selects the run-state store: "memory" or "kv".
	StateBackend string

	// KVAddr is the external key-value service address, required when
	// StateBackend is "kv".
	KVAddr string

	// StorePath is the embedded object-store database path.
	StorePath string

	// DefinitionsDir holds the on-disk service and workflow definitions.
	DefinitionsDir string

	// SnapshotRoot is the base directory of the configuration-backup tree.
	SnapshotRoot string

	// SMTP settings for the email notification transport.
	SMTPHost string
	SMTPPort int
	SMTPFrom string

	// ChatTokenEnv names the environment variable carrying the chat bot
	// token. The token itself is never stored in config.
	ChatTokenEnv string

	// WebhookURL is the endpoint the chat transport posts to. The webhook
	// transport does not read it; it posts to each notification's own
	// destination.
	WebhookURL string

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration

	// MaxRequestsPerMinute bounds the API rate limiter. Zero disables it.
	MaxRequestsPerMinute int
}

// Default returns a configuration with working local defaults.
func Default() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:7431",
		StateBackend:   "memory",
		StorePath:      "netrunner.db",
		DefinitionsDir: "definitions",
		SnapshotRoot:   "git/configurations",
		SMTPPort:       25,
		ChatTokenEnv:   "NETRUNNER_CHAT_TOKEN",
		DrainTimeout:   30 * time.Second,
	}
}

// Load builds the configuration from defaults overlaid with environment
// variables, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	envString(&cfg.ListenAddr, "NETRUNNER_LISTEN_ADDR")
	envString(&cfg.AppAddress, "NETRUNNER_APP_ADDRESS")
	envString(&cfg.AuthToken, "NETRUNNER_AUTH_TOKEN")
	envString(&cfg.JWTSecret, "NETRUNNER_JWT_SECRET")
	envString(&cfg.StateBackend, "NETRUNNER_STATE_BACKEND")
	envString(&cfg.KVAddr, "NETRUNNER_KV_ADDR")
	envString(&cfg.StorePath, "NETRUNNER_STORE_PATH")
	envString(&cfg.DefinitionsDir, "NETRUNNER_DEFINITIONS_DIR")
	envString(&cfg.SnapshotRoot, "NETRUNNER_SNAPSHOT_ROOT")
	envString(&cfg.SMTPHost, "NETRUNNER_SMTP_HOST")
	envInt(&cfg.SMTPPort, "NETRUNNER_SMTP_PORT")
	envString(&cfg.SMTPFrom, "NETRUNNER_SMTP_FROM")
	envString(&cfg.ChatTokenEnv, "NETRUNNER_CHAT_TOKEN_ENV")
	envString(&cfg.WebhookURL, "NETRUNNER_WEBHOOK_URL")
	envDuration(&cfg.DrainTimeout, "NETRUNNER_DRAIN_TIMEOUT")
	envInt(&cfg.MaxRequestsPerMinute, "NETRUNNER_RATE_LIMIT")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return &errors.ConfigError{Key: "listen_addr", Reason: "must not be empty"}
	}
	switch c.StateBackend {
	case "memory", "kv":
	default:
		return &errors.ConfigError{Key: "state_backend", Reason: "must be \"memory\" or \"kv\""}
	}
	if c.StateBackend == "kv" && c.KVAddr == "" {
		return &errors.ConfigError{Key: "kv_addr", Reason: "required when state_backend is \"kv\""}
	}
	if c.DrainTimeout < 0 {
		return &errors.ConfigError{Key: "drain_timeout", Reason: "must not be negative"}
	}
	if c.MaxRequestsPerMinute < 0 {
		return &errors.ConfigError{Key: "rate_limit", Reason: "must not be negative"}
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
