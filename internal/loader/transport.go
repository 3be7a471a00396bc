package loader

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/nettrace"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/tlsconfig"
)

// DefaultMaxRedirects bounds followed redirects when none is set.
const DefaultMaxRedirects = 10

// RedirectFunc decides on one redirect hop. It blocks until the handler
// chain has seen the hop; a non nil error refuses it.
type RedirectFunc func(rd *resource.Redirect, head *resource.ResponseHead) error

// Hooks are the per request callbacks a transport drives.
type Hooks struct {
	Redirect RedirectFunc
	Trace    *nettrace.Collector
}

// Response is an opened exchange. Body must be closed by the caller.
type Response struct {
	Head *resource.ResponseHead
	Body io.ReadCloser
}

// Transport opens a request and returns once response headers arrived.
type Transport interface {
	Open(ctx context.Context, req *resource.Request, hooks Hooks) (*Response, error)
}

// TransportOptions configures an HTTPTransport.
type TransportOptions struct {
	Timeout            time.Duration
	FollowRedirects    bool
	MaxRedirects       int
	InsecureSkipVerify bool
	ProxyURL           string
	RootCAs            []string
	ClientCert         string
	ClientKey          string
	AppendSystemRoots  bool
	HTTP2              bool
	UserAgent          string
}

// HTTPTransport is a Transport over net/http. One instance is shared by
// every load so connections and cookies are reused.
type HTTPTransport struct {
	client       *http.Client
	follow       bool
	maxRedirects int
	userAgent    string
}

type hooksKey struct{}

func NewHTTPTransport(opts TransportOptions) (*HTTPTransport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeConfig, err, "parse proxy url")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	tlsConfig, err := tlsconfig.Build(tlsconfig.Files{
		RootCAs:           opts.RootCAs,
		ClientCert:        opts.ClientCert,
		ClientKey:         opts.ClientKey,
		Insecure:          opts.InsecureSkipVerify,
		AppendSystemRoots: opts.AppendSystemRoots,
	}, "")
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsConfig

	if opts.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, errdef.Wrap(errdef.CodeConfig, err, "configure http2")
		}
	}

	jar, _ := cookiejar.New(nil)
	t := &HTTPTransport{
		follow:       opts.FollowRedirects,
		maxRedirects: opts.MaxRedirects,
		userAgent:    opts.UserAgent,
	}
	if t.maxRedirects <= 0 {
		t.maxRedirects = DefaultMaxRedirects
	}
	client := &http.Client{Transport: transport, Jar: jar, CheckRedirect: t.checkRedirect}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}
	t.client = client
	return t, nil
}

func (t *HTTPTransport) Open(ctx context.Context, req *resource.Request, hooks Hooks) (*Response, error) {
	start := time.Now()
	ctx = context.WithValue(ctx, hooksKey{}, hooks)
	ctx = nettrace.WithClientTrace(ctx, hooks.Trace)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeNetwork, err, "build request")
	}
	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeNetwork, err, "perform request")
	}
	return &Response{Head: resource.NewResponseHead(resp, start), Body: resp.Body}, nil
}

func (t *HTTPTransport) checkRedirect(r *http.Request, via []*http.Request) error {
	if !t.follow {
		return http.ErrUseLastResponse
	}
	if len(via) > t.maxRedirects {
		return resource.ErrTooManyRedirects
	}
	hooks, _ := r.Context().Value(hooksKey{}).(Hooks)
	if hooks.Redirect == nil {
		return nil
	}
	rd := &resource.Redirect{NewMethod: r.Method, NewURL: r.URL}
	var head *resource.ResponseHead
	if r.Response != nil {
		rd.StatusCode = r.Response.StatusCode
		head = resource.NewResponseHead(r.Response, time.Now())
	} else {
		head = &resource.ResponseHead{Header: make(http.Header)}
	}
	if len(via) > 0 {
		first := *via[0].URL
		rd.FirstParty = &first
	}
	return hooks.Redirect(rd, head)
}
