package config

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyInfo describes one config key for display.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns every non-secret key with its effective value. Secrets
// stay out of the listing; they live in the keychain, not the config file.
func ShowAll(cfg Config) []KeyInfo {
	var out []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		out = append(out, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return out
}

// SetKey writes one key to the platform backend.
func SetKey(key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}

	b := newPlatformBackend()
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	default:
		return b.SetString(key, value)
	}
}

// UnsetKey removes a stored key so its default applies again.
func UnsetKey(key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return newPlatformBackend().Delete(key)
}

// lookupSpec resolves a non-secret key spec by name.
func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("%q is a secret; store it in the system keychain instead", key)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key %q; valid keys: %s", key, strings.Join(ValidKeys(), ", "))
}

// ValidKeys lists the settable key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
