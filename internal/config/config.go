package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/harborchat/harbor/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Server   Server   `json:"server"`
	Chat     Chat     `json:"chat"`
	Voice    Voice    `json:"voice"`
	Paths    Paths    `json:"paths"`
}

type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type Server struct {
	// Broker websocket URL, e.g. "ws://localhost:8080/broker".
	BrokerURL string `json:"broker_url"`

	// REST API base URL, e.g. "http://localhost:8080".
	APIBaseURL string `json:"api_base_url"`
}

type Chat struct {
	// Channels subscribed on startup.
	Channels []string `json:"channels"`

	// Cached messages loaded per channel when a subscription opens.
	HistoryLimit int `json:"history_limit"`
}

type Voice struct {
	// Disable the voice subsystem entirely (e.g. machines without audio).
	Disabled bool `json:"disabled"`
}

type Paths struct {
	// Directory holding the local history database. Relative to the
	// client dir unless absolute.
	DataDir string `json:"data_dir"`
}

func Default() Config {
	return Config{
		Server: Server{
			BrokerURL:  "ws://localhost:8080/broker",
			APIBaseURL: "http://localhost:8080",
		},
		Chat: Chat{
			HistoryLimit: 100,
		},
		Paths: Paths{
			DataDir: "data",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if c.Identity.UserID <= 0 {
		return errors.New("identity.user_id is required")
	}
	if strings.TrimSpace(c.Identity.Username) == "" {
		return errors.New("identity.username is required")
	}

	// Server
	if err := validateURL(c.Server.BrokerURL, "ws", "wss"); err != nil {
		return fmt.Errorf("server.broker_url: %w", err)
	}
	if err := validateURL(c.Server.APIBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("server.api_base_url: %w", err)
	}

	// Chat
	if c.Chat.HistoryLimit < 0 {
		return errors.New("chat.history_limit must be >= 0")
	}
	for _, ch := range c.Chat.Channels {
		if strings.TrimSpace(ch) == "" {
			return errors.New("chat.channels must not contain empty ids")
		}
	}

	// Paths
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err). The default config fails validation until
// the user fills in an identity, so a freshly created file is returned
// without validating.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := util.WriteJSONFile(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
