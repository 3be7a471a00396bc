package telemetry

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

// Environment variables read by FromEnv.
const (
	EnvEndpoint = "RESLOAD_OTEL_ENDPOINT"
	EnvInsecure = "RESLOAD_OTEL_INSECURE"
	EnvHeaders  = "RESLOAD_OTEL_HEADERS"
	EnvService  = "RESLOAD_OTEL_SERVICE"
	EnvTimeout  = "RESLOAD_OTEL_TIMEOUT"
)

// Config selects the OTLP collector. Spans are only exported when
// Endpoint is set.
type Config struct {
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	ServiceName string
	Version     string
	DialTimeout time.Duration
}

func Default() Config {
	return Config{ServiceName: "resload", DialTimeout: 5 * time.Second}
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// FromEnv overlays the RESLOAD_OTEL_* variables on c. Malformed values
// are reported together and leave the matching field untouched.
func (c Config) FromEnv(getenv func(string) string) (Config, error) {
	var errs []error
	lookup := func(key string) (string, bool) {
		v := strings.TrimSpace(getenv(key))
		return v, v != ""
	}
	if v, ok := lookup(EnvEndpoint); ok {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvService); ok {
		c.ServiceName = v
	}
	if v, ok := lookup(EnvInsecure); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, errdef.New(errdef.CodeTelemetry, "%s: %q is not a boolean", EnvInsecure, v))
		} else {
			c.Insecure = b
		}
	}
	if v, ok := lookup(EnvTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, errdef.New(errdef.CodeTelemetry, "%s: %q is not a positive duration", EnvTimeout, v))
		} else {
			c.DialTimeout = d
		}
	}
	if v, ok := lookup(EnvHeaders); ok {
		h, err := ParseHeaders(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.Headers = h
		}
	}
	return c, errors.Join(errs...)
}

// ParseHeaders reads "k1=v1,k2=v2". A pair without '=' or with an empty
// key is an error.
func ParseHeaders(list string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errdef.New(errdef.CodeTelemetry, "%s: bad header %q", EnvHeaders, pair)
		}
		out[k] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
