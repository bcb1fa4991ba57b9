package config

import "sync"

// Holder provides concurrency-safe access to a reloadable Config.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps an already-loaded config with its source YAML path.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	return &Holder{cfg: cfg, path: yamlPath}
}

// Get returns the current config snapshot.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-runs the full load pipeline from the original YAML path. On
// validation failure the previous config is kept.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}
