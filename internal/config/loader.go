package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigPath resolves the on-disk config location, honoring
// CONDUCTOR_CONFIG_PATH and falling back to ~/.conductor/config.json.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("CONDUCTOR_CONFIG_PATH")); p != "" {
		return expandHome(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".conductor", "config.json"), nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}

// Load reads the config file at path, applies ${NAME} and ~ expansion, then
// overlays environment variables via envconfig struct tags. Load is used at
// startup only — structural fields loaded here (agent identity, worker set,
// injection patterns) are treated as immutable per process.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet: defaults + env overlay only.
			if envErr := envconfig.Process("", cfg); envErr != nil {
				return nil, fmt.Errorf("env overlay: %w", envErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	generic = substituteEnvValues(generic).(map[string]any)

	expanded, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-marshal config: %w", err)
	}
	if err := json.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if expandedPath, err := expandHome(cfg.Persistence.DBPath); err == nil {
		cfg.Persistence.DBPath = expandedPath
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	return cfg, nil
}

// substituteEnvValues walks a decoded JSON value, replacing ${NAME} tokens
// in every string with the corresponding environment variable. Unset
// variables are left untouched so the operator notices the typo.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}

// Hot holds the current configuration snapshot for reload without a process
// restart. Operational fields (limits, allowlists, debounce windows) take
// the freshly loaded values; structural config (agent identity, worker set,
// injection pattern catalogue) is carried over by Reload — per spec.md §9
// that boundary follows what can be
// changed safely without rebuilding compiled or pre-validated state.
type Hot struct {
	mu  sync.RWMutex
	cur *Config
}

// NewHot wraps an initial Config for hot-reload.
func NewHot(initial *Config) *Hot {
	return &Hot{cur: initial}
}

// Get returns the current config snapshot. Callers must not mutate it.
func (h *Hot) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Reload re-reads the config file at path and swaps in the new snapshot.
// Structural fields (agent provider/model, worker list, injection pattern
// catalogue) are carried over from the previous snapshot rather than the
// freshly loaded one, since those require a restart to take effect safely.
func (h *Hot) Reload(path string) error {
	next, err := Load(path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	next.Agent.Provider = h.cur.Agent.Provider
	next.Agent.Model = h.cur.Agent.Model
	next.Agent.Persona = h.cur.Agent.Persona
	next.Workers = h.cur.Workers
	next.Security.Injection.ExtraPatterns = h.cur.Security.Injection.ExtraPatterns
	h.cur = next
	return nil
}
