// Package config holds the registry of known configuration keys along with
// helpers for discovering config files, mapping environment variables to keys,
// and warning about unknown or misspelled keys.
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/knadh/koanf/v2"
)

// KeyInfo contains metadata about a known configuration key.
type KeyInfo struct {
	Key         string      // Full key path, e.g. "storage.driver"
	Description string      // Human readable description
	Type        string      // Type hint: "string", "int", "duration", "[]map", ...
	Default     interface{} // Optional default value
	Namespace   bool        // Unknown keys below a namespace are not reported
	Deprecated  bool
	ReplacedBy  string
}

var (
	registry   = map[string]KeyInfo{}
	registryMu sync.RWMutex

	defaultsLoaded sync.Once
)

// Register records metadata for one or more configuration keys.
func Register(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// RegisterDeprecated marks oldKey as deprecated in favor of newKey.
func RegisterDeprecated(oldKey, newKey string) {
	Register(KeyInfo{Key: oldKey, Deprecated: true, ReplacedBy: newKey})
}

// Lookup returns metadata for a registered key.
func Lookup(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Keys returns all registered keys, sorted.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns registered keys that declare a default value.
func Defaults() map[string]interface{} {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := map[string]interface{}{}
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// EnsureDefaultsLoaded sets defaults for keys that are not already present in
// k. It runs once per process, after every package has registered its keys.
func EnsureDefaultsLoaded(k *koanf.Koanf) {
	defaultsLoaded.Do(func() {
		for key, val := range Defaults() {
			if !k.Exists(key) {
				_ = k.Set(key, val)
			}
		}
	})
}

// FindSimilarKeys returns up to maxResults registered keys close to key, most
// similar first. Keys in the same namespace get a one point bonus.
func FindSimilarKeys(key string, maxResults int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}

	var candidates []scored
	prefix := parentKey(key)
	for registered := range registry {
		score := levenshtein.ComputeDistance(key, registered)
		if prefix != "" && prefix == parentKey(registered) && score > 0 {
			score--
		}
		if score <= 3 {
			candidates = append(candidates, scored{registered, score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	result := make([]string, 0, maxResults)
	for i := 0; i < len(candidates) && i < maxResults; i++ {
		result = append(result, candidates[i].key)
	}
	return result
}

// underNamespace reports whether any ancestor of key is a registered namespace.
func underNamespace(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if info, ok := registry[strings.Join(parts[:i], ".")]; ok && info.Namespace {
			return true
		}
	}
	return false
}

func parentKey(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[:i]
	}
	return ""
}

func resetForTest(infos ...KeyInfo) {
	registryMu.Lock()
	registry = map[string]KeyInfo{}
	registryMu.Unlock()
	Register(infos...)
}
