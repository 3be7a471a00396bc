package settings

import (
	"maps"
	"strings"
)

const envPrefix = "RESLOAD_SET_"

// FromEnv reads RESLOAD_SET_<SECTION>_<KEY> variables from environ.
// RESLOAD_SET_THROTTLE_DENY_HOSTS becomes throttle.deny_hosts.
func FromEnv(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.ToLower(name[len(envPrefix):]), "_")
		if !ok || section == "" || key == "" {
			continue
		}
		out[section+"."+key] = val
	}
	return out
}

// Merge layers scopes left to right; later scopes win.
func Merge(scopes ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, scope := range scopes {
		maps.Copy(out, scope)
	}
	return out
}
