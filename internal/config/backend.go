package config

// ConfigBackend is where non-secret settings live between runs. On macOS
// that is the user defaults database (driven through the `defaults` CLI);
// everywhere else a JSON file under the XDG config directory. Keys are the
// dotted names from the key table ("connector.port", "log.level", ...).
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
