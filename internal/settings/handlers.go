package settings

import (
	"strconv"
	"strings"

	"github.com/unkn0wn-root/resload/internal/config"
	"github.com/unkn0wn-root/resload/internal/duration"
	"github.com/unkn0wn-root/resload/internal/errdef"
)

type setter func(s *config.Settings, val string) error

var setters = map[string]setter{
	"loader.timeout":          durationSetter(func(s *config.Settings) *duration.Duration { return &s.Loader.Timeout }),
	"loader.follow_redirects": boolSetter(func(s *config.Settings) *bool { return &s.Loader.FollowRedirects }),
	"loader.max_redirects":    intSetter(func(s *config.Settings) *int { return &s.Loader.MaxRedirects }),
	"loader.proxy":            stringSetter(func(s *config.Settings) *string { return &s.Loader.Proxy }),
	"loader.insecure":         boolSetter(func(s *config.Settings) *bool { return &s.Loader.Insecure }),
	"loader.root_cas":         listSetter(func(s *config.Settings) *[]string { return &s.Loader.RootCAs }),
	"loader.client_cert":      stringSetter(func(s *config.Settings) *string { return &s.Loader.ClientCert }),
	"loader.client_key":       stringSetter(func(s *config.Settings) *string { return &s.Loader.ClientKey }),
	"loader.user_agent":       stringSetter(func(s *config.Settings) *string { return &s.Loader.UserAgent }),
	"loader.http2":            boolSetter(func(s *config.Settings) *bool { return &s.Loader.HTTP2 }),

	"loader.append_system_roots": boolSetter(func(s *config.Settings) *bool { return &s.Loader.AppendSystemRoots }),

	"buffer.size":                  intSetter(func(s *config.Settings) *int { return &s.Buffer.Size }),
	"buffer.min_alloc":             intSetter(func(s *config.Settings) *int { return &s.Buffer.MinAlloc }),
	"buffer.max_alloc":             intSetter(func(s *config.Settings) *int { return &s.Buffer.MaxAlloc }),
	"buffer.max_outstanding_pools": intSetter(func(s *config.Settings) *int { return &s.Buffer.MaxOutstandingPools }),

	"sniff.enabled": boolSetter(func(s *config.Settings) *bool { return &s.Sniff.Enabled }),
	"sniff.window":  intSetter(func(s *config.Settings) *int { return &s.Sniff.Window }),

	"throttle.rate": func(s *config.Settings, val string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return err
		}
		s.Throttle.Rate = f
		return nil
	},
	"throttle.burst":                intSetter(func(s *config.Settings) *int { return &s.Throttle.Burst }),
	"throttle.header_timeout":       durationSetter(func(s *config.Settings) *duration.Duration { return &s.Throttle.HeaderTimeout }),
	"throttle.allow_hosts":          listSetter(func(s *config.Settings) *[]string { return &s.Throttle.AllowHosts }),
	"throttle.deny_hosts":           listSetter(func(s *config.Settings) *[]string { return &s.Throttle.DenyHosts }),
	"throttle.deny_user_agents":     listSetter(func(s *config.Settings) *[]string { return &s.Throttle.DenyUserAgents }),
	"throttle.block_mime":           listSetter(func(s *config.Settings) *[]string { return &s.Throttle.BlockMime }),
	"throttle.policy_script":        stringSetter(func(s *config.Settings) *string { return &s.Throttle.PolicyScript }),
	"throttle.https_only_redirects": boolSetter(func(s *config.Settings) *bool { return &s.Throttle.HTTPSOnlyRedirects }),

	"oauth.token_url":     stringSetter(func(s *config.Settings) *string { return &s.OAuth.TokenURL }),
	"oauth.client_id":     stringSetter(func(s *config.Settings) *string { return &s.OAuth.ClientID }),
	"oauth.client_secret": stringSetter(func(s *config.Settings) *string { return &s.OAuth.ClientSecret }),
	"oauth.scopes":        listSetter(func(s *config.Settings) *[]string { return &s.OAuth.Scopes }),

	"history.disabled":    boolSetter(func(s *config.Settings) *bool { return &s.History.Disabled }),
	"history.path":        stringSetter(func(s *config.Settings) *string { return &s.History.Path }),
	"history.max_entries": intSetter(func(s *config.Settings) *int { return &s.History.MaxEntries }),

	"trace.total":     durationSetter(func(s *config.Settings) *duration.Duration { return &s.Trace.Total }),
	"trace.tolerance": durationSetter(func(s *config.Settings) *duration.Duration { return &s.Trace.Tolerance }),
}

// SettingsHandler applies every known section key onto s. Keys under a
// known section that do not exist are errors; trace.phases.<kind> sets a
// phase budget.
func SettingsHandler(s *config.Settings) Handler {
	return Handler{
		Match: PrefixMatcher("loader.", "buffer.", "sniff.", "throttle.", "oauth.", "history.", "trace."),
		Apply: func(key, val string) error {
			if kind, ok := strings.CutPrefix(key, "trace.phases."); ok && kind != "" {
				var d duration.Duration
				if err := d.UnmarshalText([]byte(val)); err != nil {
					return errdef.Wrap(errdef.CodeConfig, err, "setting %s", key)
				}
				if s.Trace.Phases == nil {
					s.Trace.Phases = make(map[string]duration.Duration)
				}
				s.Trace.Phases[kind] = d
				return nil
			}
			set, ok := setters[key]
			if !ok {
				return errdef.New(errdef.CodeConfig, "unknown setting %s", key)
			}
			if err := set(s, val); err != nil {
				return errdef.Wrap(errdef.CodeConfig, err, "setting %s", key)
			}
			return nil
		},
	}
}

// Apply runs overrides through SettingsHandler and validates the result.
func Apply(s *config.Settings, overrides map[string]string) error {
	unmatched, err := New(SettingsHandler(s)).ApplyAll(overrides)
	if err != nil {
		return err
	}
	if len(unmatched) > 0 {
		return errdef.New(errdef.CodeConfig, "unknown setting %s", strings.Join(unmatched, ", "))
	}
	return s.Validate()
}

func stringSetter(field func(*config.Settings) *string) setter {
	return func(s *config.Settings, val string) error {
		*field(s) = strings.TrimSpace(val)
		return nil
	}
}

func intSetter(field func(*config.Settings) *int) setter {
	return func(s *config.Settings, val string) error {
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return err
		}
		*field(s) = n
		return nil
	}
}

func boolSetter(field func(*config.Settings) *bool) setter {
	return func(s *config.Settings, val string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return err
		}
		*field(s) = b
		return nil
	}
}

func durationSetter(field func(*config.Settings) *duration.Duration) setter {
	return func(s *config.Settings, val string) error {
		return field(s).UnmarshalText([]byte(val))
	}
}

// listSetter splits on commas; an empty value clears the list.
func listSetter(field func(*config.Settings) *[]string) setter {
	return func(s *config.Settings, val string) error {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*field(s) = out
		return nil
	}
}
