package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server       ServerSettings       `json:"server"`
	Vod          VodSettings          `json:"vod"`
	Cache        CacheSettings        `json:"cache"`
	Transport    TransportSettings    `json:"transport"`
	Modules      ModuleSettings       `json:"modules"`
	Orchestrator OrchestratorSettings `json:"orchestrator"`
	Database     DatabaseSettings     `json:"database"`
	Log          LogConfig            `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// VodSettings configure the config resolver.
type VodSettings struct {
	// ConfigURL is the user-supplied override config URL.
	ConfigURL string `json:"configUrl"`
	// PointerURL names a document whose body is the real config URL.
	PointerURL string `json:"pointerUrl"`
	// DefaultSite / DefaultParse select defaults when matched.
	DefaultSite  string `json:"defaultSite"`
	DefaultParse string `json:"defaultParse"`
}

type CacheSettings struct {
	Directory string `json:"directory"`
	// MaxMemoryKB caps the in-memory tier. 0 keeps the built-in default.
	MaxMemoryKB int `json:"maxMemoryKB"`
	// TTLOverrides remap category TTLs, in minutes, keyed by category
	// name (config, content, search, image, script, detail, playurl,
	// api, default).
	TTLOverrides map[string]int `json:"ttlOverrides,omitempty"`
}

type TransportSettings struct {
	MaxRetries  int  `json:"maxRetries"`
	BaseDelayMS int  `json:"baseDelayMs"`
	Backoff     bool `json:"backoff"`
	TimeoutSec  int  `json:"timeoutSec"`
}

type ModuleSettings struct {
	Directory string `json:"directory"`
	AssetsDir string `json:"assetsDir"`
	// MaxSizeMB caps module downloads. 0 keeps the built-in 50 MiB.
	MaxSizeMB int `json:"maxSizeMB"`
}

type OrchestratorSettings struct {
	PerSiteTimeoutSec int `json:"perSiteTimeoutSec"`
	GlobalDeadlineSec int `json:"globalDeadlineSec"`
	MaxConcurrency    int `json:"maxConcurrency"`
}

type DatabaseSettings struct {
	Path string `json:"path"`
}

// LogConfig drives the lumberjack rotation set up in main.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration used when no settings file
// exists yet.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 8320,
		},
		Vod: VodSettings{},
		Cache: CacheSettings{
			Directory: "./data/cache",
		},
		Transport: TransportSettings{
			MaxRetries:  3,
			BaseDelayMS: 1000,
			Backoff:     true,
			TimeoutSec:  15,
		},
		Modules: ModuleSettings{
			Directory: "./data/modules",
			AssetsDir: "./assets",
		},
		Orchestrator: OrchestratorSettings{
			PerSiteTimeoutSec: 15,
			GlobalDeadlineSec: 30,
			MaxConcurrency:    8,
		},
		Database: DatabaseSettings{
			Path: "./data/vodhub.db",
		},
		Log: LogConfig{
			File:       "./data/logs/vodhub.log",
			Level:      "info",
			MaxSize:    20,
			MaxAge:     14,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	dec := json.NewDecoder(f)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, err
	}

	// Re-apply hard floors for fields an old file may zero out.
	if s.Transport.MaxRetries <= 0 {
		s.Transport.MaxRetries = 3
	}
	if s.Transport.TimeoutSec <= 0 {
		s.Transport.TimeoutSec = 15
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
