package featureflags

import (
	"fmt"
	"hash/fnv"
	"maps"
	"strconv"
	"strings"
)

// Client-side flags.
const (
	// CorrelationIDs attaches a client message id to every send and reconciles echoes by it.
	CorrelationIDs = "correlation_ids"
	// ResilientInit runs each room initialization step independently instead of aborting on the first failure.
	ResilientInit = "resilient_init"
	// SearchAutoload pages older history until a search hit is loaded.
	SearchAutoload = "search_autoload"
)

var defaults = map[string]bool{
	CorrelationIDs: true,
	ResilientInit:  true,
	SearchAutoload: true,
}

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "correlation_ids=on,search_autoload=25%,resilient_init=off"
type Manager struct {
	flags map[string]string
}

// NewManager parses a comma-separated key=value list. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	flags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k, v = normalize(k), normalize(v); k != "" && v != "" {
			flags[k] = v
		}
	}
	return &Manager{flags: flags}
}

// Enabled returns whether a flag is enabled for a given member.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic member rollout, e.g. 25%)
//
// Flags that are not configured fall back to their built-in default.
func (m *Manager) Enabled(name string, memberID int64) bool {
	if m == nil {
		return defaults[normalize(name)]
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return defaults[normalize(name)]
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	if strings.HasSuffix(value, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
		if err != nil {
			return false
		}
		if pct <= 0 {
			return false
		}
		if pct >= 100 {
			return true
		}
		if memberID == 0 {
			return false
		}
		return rolloutBucket(name, memberID) < pct
	}

	return false
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	return maps.Clone(m.flags)
}

// Snapshot returns evaluated flag status for one member, built-in flags included.
func (m *Manager) Snapshot(memberID int64) map[string]bool {
	out := make(map[string]bool, len(m.flags)+len(defaults))
	for name := range defaults {
		out[name] = m.Enabled(name, memberID)
	}
	for name := range m.flags {
		out[name] = m.Enabled(name, memberID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, memberID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), memberID)))
	return int(h.Sum32() % 100)
}
