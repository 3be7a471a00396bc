package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/nettrace"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadTOMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, `
[loader]
timeout = "5s"
max_redirects = 3

[throttle]
rate = 2.5
burst = 4
deny_hosts = ["*.ads.test"]

[trace]
total = "1s"
[trace.phases]
DNS = "50ms"
`)
	s, handle, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if handle.Format != SettingsFormatTOML {
		t.Fatalf("format = %q", handle.Format)
	}
	if s.Loader.Timeout.Std() != 5*time.Second || s.Loader.MaxRedirects != 3 {
		t.Fatalf("loader settings %+v", s.Loader)
	}
	if !s.Loader.FollowRedirects || s.Buffer.Size != 512*1024 {
		t.Fatalf("unset keys must keep defaults: %+v %+v", s.Loader, s.Buffer)
	}
	if s.Throttle.Rate != 2.5 || s.Throttle.Burst != 4 || !s.Throttle.HasPolicy() {
		t.Fatalf("throttle settings %+v", s.Throttle)
	}
	budget := s.Trace.Budget()
	if budget.Total != time.Second || budget.Phases[nettrace.PhaseDNS] != 50*time.Millisecond {
		t.Fatalf("budget %+v", budget)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	writeFile(t, path, `
loader:
  timeout: 2s
  user_agent: resload-test
sniff:
  enabled: false
buffer:
  size: 65536
  min_alloc: 1024
  max_alloc: 8192
  max_outstanding_pools: 4
history:
  path: /tmp/loads.db
`)
	s, handle, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if handle.Format != SettingsFormatYAML {
		t.Fatalf("format = %q", handle.Format)
	}
	if s.Loader.UserAgent != "resload-test" || s.Sniff.Enabled {
		t.Fatalf("unexpected settings %+v %+v", s.Loader, s.Sniff)
	}
	if s.Buffer.GateCapacity() != 4*65536 {
		t.Fatalf("gate capacity = %d", s.Buffer.GateCapacity())
	}
	if s.History.Path != "/tmp/loads.db" || s.History.MaxEntries != 500 {
		t.Fatalf("history settings %+v", s.History)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	s, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if s.Loader.MaxRedirects != 10 || !s.Sniff.Enabled {
		t.Fatalf("expected defaults, got %+v", s)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad_duration.toml": "[loader]\ntimeout = \"soon\"\n",
		"bad_buffer.toml":   "[buffer]\nmin_alloc = 65536\nmax_alloc = 1024\n",
		"half_cert.toml":    "[loader]\nclient_cert = \"cert.pem\"\n",
		"bad_syntax.toml":   "[loader\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		writeFile(t, path, content)
		if _, _, err := Load(path); !errdef.Is(err, errdef.CodeConfig) {
			t.Fatalf("%s: expected config error, got %v", name, err)
		}
	}
}

func TestDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RESLOAD_CONFIG_DIR", dir)
	if Dir() != dir || HistoryPath() != filepath.Join(dir, "history.json") {
		t.Fatalf("override ignored: %s %s", Dir(), HistoryPath())
	}
	writeFile(t, filepath.Join(dir, "settings.yaml"), "loader:\n  max_redirects: 1\n")
	s, handle, err := LoadDefault()
	if err != nil || s.Loader.MaxRedirects != 1 || handle.Format != SettingsFormatYAML {
		t.Fatalf("LoadDefault = %+v %+v %v", s.Loader, handle, err)
	}
}
