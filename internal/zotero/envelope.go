package zotero

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// minKeyLen is the shortest identifier the store hands out. Anything
// shorter in a write response means the envelope is malformed.
const minKeyLen = 7

// Write-response contract violations. Both are hard failures: the remote
// call reported neither a success nor a no-op outcome, or handed back an
// identifier that cannot be real. Callers must not retry past them.
var (
	ErrNoOutcome    = errors.New("write response carries no success or unchanged outcome")
	ErrMalformedKey = errors.New("write response carries a malformed item key")
	ErrEmptyOutcome = errors.New("write response outcome section contains no usable key")
)

// OutcomeKind tags the shape a write-response envelope resolved to.
type OutcomeKind int

const (
	// OutcomeUnchanged: the item already existed; no mutation occurred.
	OutcomeUnchanged OutcomeKind = iota
	// OutcomeSuccessMap: "success" was an index-keyed map of items or keys.
	OutcomeSuccessMap
	// OutcomeSuccessList: "success" was an ordered list of items.
	OutcomeSuccessList
	// OutcomeFailed: no success and no non-empty unchanged section.
	OutcomeFailed
)

// Outcome is the normalized form of one raw write-response envelope.
// Keys preserves the envelope's ordering.
type Outcome struct {
	Kind OutcomeKind
	Keys []string
}

// ParseWriteResponse normalizes a loosely-typed write-response envelope
// into a tagged Outcome. The connector and the REST store disagree on
// response shapes, so this is the single place that probes them:
//
//  1. a non-empty "unchanged" list wins (the write was a no-op),
//  2. then a "success" map whose entries are item objects or bare keys,
//  3. then a "success" list of item objects.
//
// Anything else is OutcomeFailed.
func ParseWriteResponse(envelope map[string]any) Outcome {
	if keys := listKeys(envelope["unchanged"]); len(keys) > 0 {
		return Outcome{Kind: OutcomeUnchanged, Keys: keys}
	}

	switch success := envelope["success"].(type) {
	case map[string]any:
		if len(success) > 0 {
			return Outcome{Kind: OutcomeSuccessMap, Keys: mapKeys(success)}
		}
	case []any:
		if keys := listKeys(success); len(keys) > 0 {
			return Outcome{Kind: OutcomeSuccessList, Keys: keys}
		}
	}

	return Outcome{Kind: OutcomeFailed}
}

// ExtractKey normalizes a write-response envelope into the single created
// or pre-existing item key. It is pure and never retries; a missing outcome
// or a too-short key is a contract violation surfaced as an error.
func ExtractKey(envelope map[string]any) (string, error) {
	outcome := ParseWriteResponse(envelope)

	switch outcome.Kind {
	case OutcomeUnchanged, OutcomeSuccessMap, OutcomeSuccessList:
		if len(outcome.Keys) == 0 {
			return "", fmt.Errorf("%w: %v", ErrEmptyOutcome, envelope)
		}
		key := outcome.Keys[0]
		if len(key) < minKeyLen {
			return "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
		return key, nil
	case OutcomeFailed:
		return "", fmt.Errorf("%w: %v", ErrNoOutcome, envelope)
	default:
		return "", fmt.Errorf("%w: %v", ErrNoOutcome, envelope)
	}
}

// listKeys extracts item keys from a list of item objects or bare keys,
// preserving order. Entries without a usable key are skipped.
func listKeys(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var keys []string
	for _, entry := range list {
		if k, ok := entryKey(entry); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// mapKeys extracts item keys from an index-keyed success map, ordered by
// ascending index ("0", "1", ...; non-numeric indexes sort after, lexically).
func mapKeys(m map[string]any) []string {
	indexes := make([]string, 0, len(m))
	for idx := range m {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool {
		a, aerr := strconv.Atoi(indexes[i])
		b, berr := strconv.Atoi(indexes[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return indexes[i] < indexes[j]
		}
	})

	var keys []string
	for _, idx := range indexes {
		if k, ok := entryKey(m[idx]); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// entryKey resolves one envelope entry to an item key. An entry is either
// a bare key string or an object carrying a "key" field.
func entryKey(entry any) (string, bool) {
	switch e := entry.(type) {
	case string:
		return e, e != ""
	case map[string]any:
		if k, ok := e["key"].(string); ok && k != "" {
			return k, true
		}
	}
	return "", false
}
