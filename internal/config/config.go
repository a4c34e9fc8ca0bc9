package config

import (
	"strings"
)

type Config struct {
	Connector ConnectorConfig
	Library   LibraryConfig
	Storage   StorageConfig
	Transfer  TransferConfig
	Capture   CaptureConfig
	Ingest    IngestConfig
	Log       LogConfig
}

// CaptureConfig selects the page renderer. An empty Binary probes the PATH
// for a known browser.
type CaptureConfig struct {
	Binary string
}

// ConnectorConfig addresses the desktop application's connector endpoint.
type ConnectorConfig struct {
	Host string
	Port int
}

// LibraryConfig addresses the library's REST API.
type LibraryConfig struct {
	BaseURL string
	Type    string
	ID      string
	APIKey  string
}

type StorageConfig struct {
	// Root is the application's attachment storage directory, where
	// ingested files are placed.
	Root string
	// DataDir holds this tool's own state, such as the ingestion history.
	DataDir string
}

type TransferConfig struct {
	StartPort int
}

type IngestConfig struct {
	Tags           string
	CollectionKey  string
	CollectionName string
	Attempts       int
	Delay          string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Connector: ConnectorConfig{
			Host: "127.0.0.1",
			Port: 23119,
		},
		Library: LibraryConfig{
			BaseURL: "http://127.0.0.1:23119/api",
			Type:    "user",
			ID:      "0",
		},
		Storage: StorageConfig{
			Root:    defaultStorageRoot(),
			DataDir: defaultDataDir(),
		},
		Transfer: TransferConfig{
			StartPort: 25852,
		},
		Ingest: IngestConfig{
			Attempts: 10,
			Delay:    "2s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.zotsnap.app) and the
// API key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/zotsnap/config.json
// and the API key falls back to a secrets file under $XDG_DATA_HOME.
//
// Environment variables (ZOTSNAP_*) override backend values on all
// platforms. The API key is optional: the local REST endpoint accepts
// unauthenticated requests.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.Library.APIKey == "" {
		if key, err := kc.Get("zotsnap", "zotero_api_key"); err == nil && key != "" {
			cfg.Library.APIKey = key
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseTags splits a comma-separated tag list, dropping empty entries.
func ParseTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
