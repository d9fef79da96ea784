package agent

import (
	"os"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigFile overrides where the agent reads its YAML config from.
	EnvConfigFile = "CONFIG_FILE"

	defaultConfigFile = "config.yaml"
)

func (a *Agent) configFilePath() string {
	if a.configPath != "" {
		return a.configPath
	}
	if path := os.Getenv(EnvConfigFile); path != "" {
		return path
	}
	return defaultConfigFile
}

// loadConfig reads the config file if present. A missing file is normal;
// a malformed one is logged and the previous (or empty) config kept.
func (a *Agent) loadConfig() {
	path := a.configFilePath()

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("could not read config file", "path", path, "error", err.Error())
		}
		return
	}

	cfg, err := parseConfig(raw)
	if err != nil {
		a.logger.Warn("could not parse config file", "path", path, "error", err.Error())
		return
	}

	a.configMu.Lock()
	a.config = cfg
	a.configHash = blake3.Sum256(raw)
	a.configMu.Unlock()

	a.logger.Info("loaded configuration", "path", path, "keys", len(cfg))
}

// reloadConfig re-reads the config file in response to a reload signal.
// The content hash short-circuits reloads where nothing changed.
func (a *Agent) reloadConfig() {
	path := a.configFilePath()

	raw, err := os.ReadFile(path)
	if err != nil {
		a.logger.Warn("config reload failed", "path", path, "error", err.Error())
		return
	}

	sum := blake3.Sum256(raw)
	a.configMu.Lock()
	unchanged := sum == a.configHash
	a.configMu.Unlock()
	if unchanged {
		a.logger.Debug("configuration unchanged, skipping reload")
		return
	}

	cfg, err := parseConfig(raw)
	if err != nil {
		a.logger.Warn("could not parse config file", "path", path, "error", err.Error())
		return
	}

	a.configMu.Lock()
	a.config = cfg
	a.configHash = sum
	a.configMu.Unlock()

	a.logger.Info("configuration reloaded", "path", path)
	if r, ok := a.app.(ConfigReloader); ok {
		r.OnConfigUpdate(a, a.Config())
	}
}

// Config returns a shallow copy of the current configuration map.
func (a *Agent) Config() map[string]any {
	a.configMu.Lock()
	defer a.configMu.Unlock()

	out := make(map[string]any, len(a.config))
	for k, v := range a.config {
		out[k] = v
	}
	return out
}

func parseConfig(raw []byte) (map[string]any, error) {
	cfg := map[string]any{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
