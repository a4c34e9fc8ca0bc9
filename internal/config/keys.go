package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "connector.host", typ: kString, env: "ZOTSNAP_CONNECTOR_HOST",
		apply:   func(cfg *Config, v any) { cfg.Connector.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Connector.Host },
	},
	{
		key: "connector.port", typ: kInt, env: "ZOTSNAP_CONNECTOR_PORT",
		apply:   func(cfg *Config, v any) { cfg.Connector.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Connector.Port },
	},
	{
		key: "library.base_url", typ: kString, env: "ZOTSNAP_LIBRARY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Library.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.BaseURL },
	},
	{
		key: "library.type", typ: kString, env: "ZOTSNAP_LIBRARY_TYPE",
		apply:   func(cfg *Config, v any) { cfg.Library.Type = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.Type },
	},
	{
		key: "library.id", typ: kString, env: "ZOTSNAP_LIBRARY_ID",
		apply:   func(cfg *Config, v any) { cfg.Library.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.ID },
	},
	{
		key: "library.api_key", typ: kString, env: "ZOTSNAP_LIBRARY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Library.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.APIKey },
	},
	{
		key: "storage.root", typ: kString, env: "ZOTSNAP_STORAGE_ROOT",
		apply:   func(cfg *Config, v any) { cfg.Storage.Root = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Root },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ZOTSNAP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "transfer.start_port", typ: kInt, env: "ZOTSNAP_TRANSFER_START_PORT",
		apply:   func(cfg *Config, v any) { cfg.Transfer.StartPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Transfer.StartPort },
	},
	{
		key: "capture.binary", typ: kString, env: "ZOTSNAP_CAPTURE_BINARY",
		apply:   func(cfg *Config, v any) { cfg.Capture.Binary = v.(string) },
		extract: func(cfg Config) any { return cfg.Capture.Binary },
	},
	{
		key: "ingest.tags", typ: kString, env: "ZOTSNAP_INGEST_TAGS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Tags = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Tags },
	},
	{
		key: "ingest.collection_key", typ: kString, env: "ZOTSNAP_INGEST_COLLECTION_KEY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.CollectionKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.CollectionKey },
	},
	{
		key: "ingest.collection_name", typ: kString, env: "ZOTSNAP_INGEST_COLLECTION_NAME",
		apply:   func(cfg *Config, v any) { cfg.Ingest.CollectionName = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.CollectionName },
	},
	{
		key: "ingest.attempts", typ: kInt, env: "ZOTSNAP_INGEST_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Attempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Attempts },
	},
	{
		key: "ingest.delay", typ: kString, env: "ZOTSNAP_INGEST_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Delay = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Delay },
	},
	{
		key: "log.level", typ: kString, env: "ZOTSNAP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
