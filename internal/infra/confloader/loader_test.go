package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Peer struct {
		ID   string `koanf:"id"`
		Room string `koanf:"room"`
	} `koanf:"peer"`
	Session struct {
		PredictionWindow  int           `koanf:"prediction_window"`
		DisconnectTimeout time.Duration `koanf:"disconnect_timeout"`
	} `koanf:"session"`
	Gossip struct {
		Seeds []string `koanf:"seeds"`
	} `koanf:"gossip"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollmesh.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_Priority(t *testing.T) {
	path := writeConfig(t, `
peer:
  id: alice
  room: lobby-1
session:
  prediction_window: 6
  disconnect_timeout: 3s
gossip:
  seeds: ["10.0.0.1:7946"]
`)
	t.Setenv("ROLLMESH_PEER__ROOM", "lobby-2")
	t.Setenv("ROLLMESH_SESSION__PREDICTION_WINDOW", "9")

	var cfg testConfig
	cfg.Session.DisconnectTimeout = time.Minute
	l := NewLoader(
		WithConfigFile(path),
		WithOverrides(map[string]any{"peer.id": "bob"}),
	)
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"override beats file", cfg.Peer.ID, "bob"},
		{"env beats file", cfg.Peer.Room, "lobby-2"},
		{"env with underscores", cfg.Session.PredictionWindow, 9},
		{"file duration", cfg.Session.DisconnectTimeout, 3 * time.Second},
		{"file list", len(cfg.Gossip.Seeds), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if !l.IsLoaded() {
		t.Error("IsLoaded() = false")
	}
}

func TestLoader_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, "peer:\n  id: alice\n")
	var cfg testConfig
	cfg.Session.PredictionWindow = 8

	if err := NewLoader(WithConfigFile(path), WithEnvPrefix("RMTEST_")).Load(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Session.PredictionWindow != 8 {
		t.Errorf("PredictionWindow = %d, want default 8", cfg.Session.PredictionWindow)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	var cfg testConfig
	if err := NewLoader(WithConfigFile("/nonexistent/rollmesh.yaml")).Load(&cfg); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoader_Reload(t *testing.T) {
	path := writeConfig(t, "peer:\n  room: one\n")
	l := NewLoader(WithConfigFile(path), WithEnvPrefix("RMTEST_"))

	var cfg testConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("peer:\n  room: two\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := l.Reload(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Peer.Room != "two" || l.GetString("peer.room") != "two" {
		t.Errorf("room after reload = %q", cfg.Peer.Room)
	}
}

func TestEnvKey(t *testing.T) {
	l := NewLoader()
	tests := map[string]string{
		"ROLLMESH_LOG__LEVEL":                   "log.level",
		"ROLLMESH_SESSION__SYNC_ROUNDTRIPS":     "session.sync_roundtrips",
		"ROLLMESH_TRANSPORT__GOSSIP__BIND_PORT": "transport.gossip.bind_port",
	}
	for in, want := range tests {
		if got := l.envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapProvider_NestsDottedKeys(t *testing.T) {
	m, err := mapProvider{"a.b.c": 1, "a.d": "x", "e": true}.Read()
	if err != nil {
		t.Fatal(err)
	}
	a, ok := m["a"].(map[string]any)
	if !ok {
		t.Fatalf("m[a] = %T", m["a"])
	}
	if b, ok := a["b"].(map[string]any); !ok || b["c"] != 1 {
		t.Errorf("a.b = %v", a["b"])
	}
	if a["d"] != "x" || m["e"] != true {
		t.Errorf("map = %v", m)
	}
	if _, err := (mapProvider{}).ReadBytes(); err != ErrReadBytesNotSupported {
		t.Errorf("ReadBytes error = %v", err)
	}
}
