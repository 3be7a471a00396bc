// Package settings applies key=value overrides, from the command line or
// the environment, onto loaded config.
package settings

import (
	"errors"
	"slices"
	"strings"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

// Handler owns the keys its Match accepts. Keys reach Apply lowercased
// and trimmed.
type Handler struct {
	Match func(key string) bool
	Apply func(key, val string) error
}

// Applier routes each key to the first handler that matches it.
type Applier struct {
	handlers []Handler
}

func New(handlers ...Handler) Applier {
	return Applier{handlers: handlers}
}

// ApplyAll applies overrides in key order so failures are reported the
// same way on every run. It returns the keys no handler matched; every
// Apply error is joined into err.
func (a Applier) ApplyAll(overrides map[string]string) (unmatched []string, err error) {
	normalized := make(map[string]string, len(overrides))
	for k, v := range overrides {
		if key := normalizeKey(k); key != "" {
			normalized[key] = v
		}
	}
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		i := slices.IndexFunc(a.handlers, func(h Handler) bool { return h.Match != nil && h.Match(key) })
		if i < 0 {
			unmatched = append(unmatched, key)
			continue
		}
		if apply := a.handlers[i].Apply; apply != nil {
			if err := apply(key, normalized[key]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return unmatched, errors.Join(errs...)
}

// PrefixMatcher matches keys starting with any of prefixes, which are
// expected in lower case.
func PrefixMatcher(prefixes ...string) func(string) bool {
	return func(key string) bool {
		return slices.ContainsFunc(prefixes, func(p string) bool {
			return strings.HasPrefix(normalizeKey(key), p)
		})
	}
}

func ExactMatcher(keys ...string) func(string) bool {
	return func(key string) bool {
		return slices.Contains(keys, normalizeKey(key))
	}
}

// ParseAssignments turns "key=value" arguments into a map. Later
// assignments win.
func ParseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errdef.New(errdef.CodeConfig, "setting %q is not key=value", arg)
		}
		out[key] = strings.TrimSpace(val)
	}
	return out, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
