package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Identity = Identity{UserID: 7, Username: "alice"}
	cfg.Chat.Channels = []string{"general"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing user id", func(c *Config) { c.Identity.UserID = 0 }, "identity.user_id"},
		{"blank username", func(c *Config) { c.Identity.Username = "  " }, "identity.username"},
		{"empty broker url", func(c *Config) { c.Server.BrokerURL = "" }, "server.broker_url"},
		{"http broker url", func(c *Config) { c.Server.BrokerURL = "http://localhost:8080" }, "server.broker_url"},
		{"broker url without host", func(c *Config) { c.Server.BrokerURL = "ws://" }, "server.broker_url"},
		{"ws api url", func(c *Config) { c.Server.APIBaseURL = "ws://localhost:8080" }, "server.api_base_url"},
		{"negative history limit", func(c *Config) { c.Chat.HistoryLimit = -1 }, "history_limit"},
		{"empty channel id", func(c *Config) { c.Chat.Channels = []string{"general", " "} }, "chat.channels"},
		{"blank data dir", func(c *Config) { c.Paths.DataDir = "" }, "paths.data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := validConfig()
	cfg.Server.BrokerURL = "wss://chat.example.com/broker"
	cfg.Voice.Disabled = true

	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := validConfig()
	cfg.Identity.Username = ""

	require.Error(t, Save(path, cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "invalid config must not be written")
}

func TestLoadFillsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"identity": {"user_id": 7, "username": "alice"}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/broker", cfg.Server.BrokerURL)
	assert.Equal(t, 100, cfg.Chat.HistoryLimit)
	assert.Equal(t, "data", cfg.Paths.DataDir)
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"identity": {"user_id": 7, "username": "alice"}}`)...)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err := Load(path)
	assert.NoError(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnsureCreatesDefaultOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	// The default has no identity yet, so a second Ensure must surface the
	// validation error instead of silently recreating the file.
	_, created, err = Ensure(path)
	assert.False(t, created)
	assert.Error(t, err)
}

func TestEnsureLoadsExistingValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(path, validConfig()))

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, validConfig(), cfg)
}
