package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/resload/internal/duration"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/nettrace"
)

type SettingsFormat string

const (
	SettingsFormatTOML SettingsFormat = "toml"
	SettingsFormatYAML SettingsFormat = "yaml"
)

// SettingsHandle names the file settings came from, or would be saved to.
type SettingsHandle struct {
	Path   string
	Format SettingsFormat
}

type Settings struct {
	Loader   LoaderSettings   `toml:"loader" yaml:"loader"`
	Buffer   BufferSettings   `toml:"buffer" yaml:"buffer"`
	Sniff    SniffSettings    `toml:"sniff" yaml:"sniff"`
	Throttle ThrottleSettings `toml:"throttle" yaml:"throttle"`
	OAuth    OAuthSettings    `toml:"oauth" yaml:"oauth"`
	History  HistorySettings  `toml:"history" yaml:"history"`
	Trace    TraceSettings    `toml:"trace" yaml:"trace"`
}

type LoaderSettings struct {
	Timeout         duration.Duration `toml:"timeout" yaml:"timeout"`
	FollowRedirects bool              `toml:"follow_redirects" yaml:"follow_redirects"`
	MaxRedirects    int               `toml:"max_redirects" yaml:"max_redirects"`
	Proxy           string            `toml:"proxy" yaml:"proxy"`
	Insecure        bool              `toml:"insecure" yaml:"insecure"`
	RootCAs         []string          `toml:"root_cas" yaml:"root_cas"`
	ClientCert      string            `toml:"client_cert" yaml:"client_cert"`
	ClientKey       string            `toml:"client_key" yaml:"client_key"`
	UserAgent       string            `toml:"user_agent" yaml:"user_agent"`
	HTTP2           bool              `toml:"http2" yaml:"http2"`

	// AppendSystemRoots keeps the system pool alongside RootCAs.
	AppendSystemRoots bool `toml:"append_system_roots" yaml:"append_system_roots"`
}

type BufferSettings struct {
	Size     int `toml:"size" yaml:"size"`
	MinAlloc int `toml:"min_alloc" yaml:"min_alloc"`
	MaxAlloc int `toml:"max_alloc" yaml:"max_alloc"`
	// MaxOutstandingPools caps live pools across loads; zero is unbounded.
	MaxOutstandingPools int `toml:"max_outstanding_pools" yaml:"max_outstanding_pools"`
}

// GateCapacity is the byte budget shared by all pools.
func (b BufferSettings) GateCapacity() int64 {
	if b.MaxOutstandingPools <= 0 {
		return 0
	}
	return int64(b.MaxOutstandingPools) * int64(b.Size)
}

type SniffSettings struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	Window  int  `toml:"window" yaml:"window"`
}

type ThrottleSettings struct {
	Rate               float64           `toml:"rate" yaml:"rate"`
	Burst              int               `toml:"burst" yaml:"burst"`
	HeaderTimeout      duration.Duration `toml:"header_timeout" yaml:"header_timeout"`
	AllowHosts         []string          `toml:"allow_hosts" yaml:"allow_hosts"`
	DenyHosts          []string          `toml:"deny_hosts" yaml:"deny_hosts"`
	DenyUserAgents     []string          `toml:"deny_user_agents" yaml:"deny_user_agents"`
	BlockMime          []string          `toml:"block_mime" yaml:"block_mime"`
	PolicyScript       string            `toml:"policy_script" yaml:"policy_script"`
	HTTPSOnlyRedirects bool              `toml:"https_only_redirects" yaml:"https_only_redirects"`
}

// HasPolicy reports whether any host, agent or script rule is set.
func (t ThrottleSettings) HasPolicy() bool {
	return len(t.AllowHosts) > 0 || len(t.DenyHosts) > 0 || len(t.DenyUserAgents) > 0 ||
		strings.TrimSpace(t.PolicyScript) != ""
}

type OAuthSettings struct {
	TokenURL     string   `toml:"token_url" yaml:"token_url"`
	ClientID     string   `toml:"client_id" yaml:"client_id"`
	ClientSecret string   `toml:"client_secret" yaml:"client_secret"`
	Scopes       []string `toml:"scopes" yaml:"scopes"`
}

func (o OAuthSettings) Enabled() bool { return o.TokenURL != "" && o.ClientID != "" }

type HistorySettings struct {
	Disabled   bool   `toml:"disabled" yaml:"disabled"`
	Path       string `toml:"path" yaml:"path"`
	MaxEntries int    `toml:"max_entries" yaml:"max_entries"`
}

type TraceSettings struct {
	Total     duration.Duration            `toml:"total" yaml:"total"`
	Tolerance duration.Duration            `toml:"tolerance" yaml:"tolerance"`
	Phases    map[string]duration.Duration `toml:"phases" yaml:"phases"`
}

func (t TraceSettings) Budget() nettrace.Budget {
	b := nettrace.Budget{Total: t.Total.Std(), Tolerance: t.Tolerance.Std()}
	if len(t.Phases) > 0 {
		b.Phases = make(map[nettrace.PhaseKind]time.Duration, len(t.Phases))
		for name, d := range t.Phases {
			b.Phases[nettrace.PhaseKind(strings.ToLower(name))] = d.Std()
		}
	}
	return b
}

func Defaults() Settings {
	return Settings{
		Loader: LoaderSettings{
			Timeout:         duration.Duration(30 * time.Second),
			FollowRedirects: true,
			MaxRedirects:    10,
			HTTP2:           true,
		},
		Buffer: BufferSettings{
			Size:     512 * 1024,
			MinAlloc: 4 * 1024,
			MaxAlloc: 32 * 1024,
		},
		Sniff:   SniffSettings{Enabled: true},
		History: HistorySettings{Path: HistoryPath(), MaxEntries: 500},
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.Loader.Timeout < 0 {
		errs = append(errs, errdef.New(errdef.CodeConfig, "loader.timeout must not be negative"))
	}
	if s.Loader.MaxRedirects < 0 {
		errs = append(errs, errdef.New(errdef.CodeConfig, "loader.max_redirects must not be negative"))
	}
	if (s.Loader.ClientCert == "") != (s.Loader.ClientKey == "") {
		errs = append(errs, errdef.New(errdef.CodeConfig, "loader.client_cert and loader.client_key go together"))
	}
	b := s.Buffer
	if b.Size <= 0 || b.MinAlloc <= 0 || b.MaxAlloc <= 0 {
		errs = append(errs, errdef.New(errdef.CodeConfig, "buffer sizes must be positive"))
	} else if b.MinAlloc > b.MaxAlloc || b.MaxAlloc > b.Size {
		errs = append(errs, errdef.New(errdef.CodeConfig, "buffer needs min_alloc <= max_alloc <= size"))
	}
	if s.Throttle.Rate < 0 || s.Throttle.Burst < 0 {
		errs = append(errs, errdef.New(errdef.CodeConfig, "throttle.rate and throttle.burst must not be negative"))
	}
	if s.OAuth.TokenURL != "" && s.OAuth.ClientID == "" {
		errs = append(errs, errdef.New(errdef.CodeConfig, "oauth.client_id is required with oauth.token_url"))
	}
	return errors.Join(errs...)
}

// Load reads settings from path on top of Defaults. A missing file is not
// an error.
func Load(path string) (Settings, SettingsHandle, error) {
	settings := Defaults()
	handle := SettingsHandle{Path: path, Format: formatOf(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, handle, nil
		}
		return settings, handle, errdef.Wrap(errdef.CodeConfig, err, "read settings")
	}

	switch handle.Format {
	case SettingsFormatYAML:
		err = yaml.Unmarshal(data, &settings)
	default:
		err = toml.Unmarshal(data, &settings)
	}
	if err != nil {
		return settings, handle, errdef.Wrap(errdef.CodeConfig, err, "parse %s", path)
	}
	if err := settings.Validate(); err != nil {
		return settings, handle, err
	}
	return settings, handle, nil
}

// LoadDefault looks for settings.toml, settings.yaml or settings.yml in Dir.
func LoadDefault() (Settings, SettingsHandle, error) {
	dir := Dir()
	for _, name := range []string{"settings.toml", "settings.yaml", "settings.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Load(filepath.Join(dir, "settings.toml"))
}

func formatOf(path string) SettingsFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return SettingsFormatYAML
	default:
		return SettingsFormatTOML
	}
}
