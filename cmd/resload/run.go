package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/resload/internal/config"
	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/download"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/history"
	"github.com/unkn0wn-root/resload/internal/loader"
	"github.com/unkn0wn-root/resload/internal/navigation"
	"github.com/unkn0wn-root/resload/internal/nettrace"
	"github.com/unkn0wn-root/resload/internal/pipeline"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/sharedbuf"
	"github.com/unkn0wn-root/resload/internal/stream"
	"github.com/unkn0wn-root/resload/internal/telemetry"
)

const (
	modeStream   = "stream"
	modeNavigate = "navigate"
	modeDownload = "download"
)

// Types saved to disk even when they are not attachments.
var downloadTypes = []string{
	"application/octet-stream",
	"application/zip",
	"application/gzip",
	"application/x-tar",
	"application/x-7z-compressed",
}

type runConfig struct {
	Settings config.Settings
	URLs     []string
	Method   string
	Headers  []string
	Mode     string
	SinkURL  string
	OutDir   string
	Parallel int
	Quiet    bool
	History  history.Recorder
}

// env is shared by every load of one run.
type env struct {
	rc        runConfig
	threads   dispatch.Threads
	transport loader.Transport
	gate      *sharedbuf.Gate
	builder   *pipeline.Builder
	host      *loader.Host
	dir       string
	out       io.Writer
	report    io.Writer
	reportMu  sync.Mutex
	budget    nettrace.Budget
	logger    *log.Logger
}

func run(ctx context.Context, rc runConfig) (int, error) {
	switch rc.Mode {
	case modeStream, modeNavigate, modeDownload:
	default:
		return 0, errdef.New(errdef.CodeConfig, "unknown mode %q", rc.Mode)
	}
	logger := log.Default()
	cfg := rc.Settings

	tcfg, err := telemetry.Default().FromEnv(os.Getenv)
	if err != nil {
		return 0, err
	}
	tcfg.Version = version
	provider, err := telemetry.Setup(ctx, tcfg)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	// The actors outlive an interrupt so cancelled loads can still finish.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()
	threads := dispatch.Threads{IO: dispatch.Start(loopCtx, "io"), UI: dispatch.Start(loopCtx, "ui")}

	transport, err := loader.NewHTTPTransport(loader.TransportOptions{
		Timeout:            cfg.Loader.Timeout.Std(),
		FollowRedirects:    cfg.Loader.FollowRedirects,
		MaxRedirects:       cfg.Loader.MaxRedirects,
		InsecureSkipVerify: cfg.Loader.Insecure,
		ProxyURL:           cfg.Loader.Proxy,
		RootCAs:            cfg.Loader.RootCAs,
		AppendSystemRoots:  cfg.Loader.AppendSystemRoots,
		ClientCert:         cfg.Loader.ClientCert,
		ClientKey:          cfg.Loader.ClientKey,
		HTTP2:              cfg.Loader.HTTP2,
		UserAgent:          cfg.Loader.UserAgent,
	})
	if err != nil {
		return 0, err
	}

	dir := rc.OutDir
	if dir == "" {
		dir = config.DownloadDir()
	}
	registry := pipeline.NewRegistry()
	if rc.Mode != modeDownload {
		registry.SetDownload(func(req *resource.Request) handler.Handler {
			return download.New(req, dir, logger)
		}, downloadTypes...)
	}

	pcfg := pipeline.Config{
		Threads:         threads,
		Registry:        registry,
		Throttles:       throttleFactories(ctx, cfg, threads, logger),
		DisableSniffing: !cfg.Sniff.Enabled,
		SniffWindow:     cfg.Sniff.Window,
		Logger:          logger,
	}
	if tcfg.Enabled() {
		pcfg.Tracer = provider.Tracer()
	}

	e := &env{
		rc:        rc,
		threads:   threads,
		transport: transport,
		gate:      sharedbuf.NewGate(cfg.Buffer.GateCapacity()),
		builder:   pipeline.New(pcfg),
		host:      loader.NewHost(),
		dir:       dir,
		out:       &lockedWriter{w: os.Stdout},
		report:    os.Stderr,
		budget:    cfg.Trace.Budget(),
		logger:    logger,
	}
	if rc.History != nil {
		e.host.OnComplete(func(res loader.Result) {
			if err := rc.History.Append(history.FromResult(res, e.budget)); err != nil {
				logger.Printf("history: %v", err)
			}
		})
	}

	var failed atomic.Int32
	var g errgroup.Group
	if rc.Parallel > 0 {
		g.SetLimit(rc.Parallel)
	}
	for _, raw := range rc.URLs {
		g.Go(func() error {
			ok, err := e.load(ctx, raw)
			if !ok {
				failed.Add(1)
			}
			return err
		})
	}
	err = g.Wait()
	e.host.Wait()
	return int(failed.Load()), err
}

// load runs one URL to completion and reports whether it succeeded. The
// error is reserved for requests that could not be built at all.
func (e *env) load(ctx context.Context, raw string) (bool, error) {
	req, err := resource.NewRequest(e.rc.Method, raw)
	if err != nil {
		return false, errdef.Wrap(errdef.CodeConfig, err, "parse url %q", raw)
	}
	for _, h := range e.rc.Headers {
		name, val, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return false, errdef.New(errdef.CodeConfig, "header %q is not 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(val))
	}
	if ua := e.rc.Settings.Loader.UserAgent; ua != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", ua)
	}

	// Several bodies on one stdout would interleave; hold each until done.
	var (
		w   = e.out
		buf *bytes.Buffer
	)
	if len(e.rc.URLs) > 1 {
		buf = &bytes.Buffer{}
		w = buf
	}

	terminal, finished, err := e.terminal(ctx, req, w)
	if err != nil {
		return false, err
	}
	chain := e.builder.Build(ctx, req, terminal)
	l := loader.New(req, chain.Outer, loader.Options{
		Transport: e.transport,
		IO:        e.threads.IO,
		Logger:    e.logger,
	})
	e.host.Start(ctx, l)
	<-l.Done()
	<-finished
	res := l.Result()

	if buf != nil {
		if _, err := e.out.Write(buf.Bytes()); err != nil {
			e.logger.Printf("write body of %s: %v", raw, err)
		}
	}

	var saved string
	if d, ok := chain.Terminal().(*download.Handler); ok && res.Status.IsSuccess() {
		saved = d.Path()
	}
	if !e.rc.Quiet {
		e.reportMu.Lock()
		fmt.Fprintln(e.report, renderSummary(res, nettrace.NewReport(res.Timeline, e.budget), saved))
		e.reportMu.Unlock()
	}
	return res.Status.IsSuccess(), nil
}

// terminal builds the mode's end of the chain and a channel closed once
// it has flushed everything it was handed.
func (e *env) terminal(ctx context.Context, req *resource.Request, w io.Writer) (handler.Handler, <-chan struct{}, error) {
	switch e.rc.Mode {
	case modeNavigate:
		core := navigation.NewWriterCore(w)
		h := navigation.New(req, core, navigation.Options{Threads: e.threads, Logger: e.logger})
		return h, core.Done(), nil
	case modeDownload:
		done := make(chan struct{})
		close(done)
		return download.New(req, e.dir, e.logger), done, nil
	}

	var (
		sink stream.Sink
		done <-chan struct{}
	)
	if e.rc.SinkURL != "" {
		ws, err := stream.DialSink(ctx, e.rc.SinkURL)
		if err != nil {
			return nil, nil, err
		}
		sink, done = ws, ws.Done()
	} else {
		c := stream.NewConsumer(w)
		sink, done = c, c.Done()
	}
	b := e.rc.Settings.Buffer
	h := stream.NewAsyncHandler(req, sink, stream.Options{
		Geometry: stream.Geometry{Size: b.Size, MinAlloc: b.MinAlloc, MaxAlloc: b.MaxAlloc},
		Gate:     e.gate,
		IO:       e.threads.IO,
		Logger:   e.logger,
	})
	return h, done, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
