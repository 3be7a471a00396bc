package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/unkn0wn-root/resload/internal/config"
	"github.com/unkn0wn-root/resload/internal/history"
	"github.com/unkn0wn-root/resload/internal/settings"
	"github.com/unkn0wn-root/resload/internal/stream"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var (
		settingsPath  string
		overrides     listFlag
		headers       listFlag
		method        string
		mode          string
		sinkURL       string
		outDir        string
		parallel      int
		quiet         bool
		showHistory   bool
		serveConsumer string
		showVersion   bool
	)

	flag.StringVar(&settingsPath, "config", "", "Path to settings.toml or settings.yaml")
	flag.Var(&overrides, "set", "Override a setting, e.g. -set loader.timeout=5s (repeatable)")
	flag.Var(&headers, "H", "Request header 'Name: value' (repeatable)")
	flag.StringVar(&method, "X", http.MethodGet, "Request method")
	flag.StringVar(&mode, "mode", modeStream, "Body consumer: stream, navigate or download")
	flag.StringVar(&sinkURL, "sink", "", "Ship stream mode bodies to a websocket consumer at this URL")
	flag.StringVar(&outDir, "o", "", "Directory for downloaded bodies")
	flag.IntVar(&parallel, "parallel", 4, "Loads to run at once")
	flag.BoolVar(&quiet, "q", false, "Do not print load summaries")
	flag.BoolVar(&showHistory, "history", false, "List recent loads and exit")
	flag.StringVar(&serveConsumer, "serve-consumer", "", "Serve a websocket consumer on this address and write bodies to stdout")
	flag.BoolVar(&showVersion, "version", false, "Show resload version")
	flag.Parse()

	if showVersion {
		fmt.Printf("resload %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if serveConsumer != "" {
		if err := serve(ctx, serveConsumer); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadSettings(settingsPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	var recorder history.Recorder
	if !cfg.History.Disabled {
		recorder, err = history.Open(cfg.History.Path, cfg.History.MaxEntries)
		if err != nil {
			log.Printf("history load error: %v", err)
		}
	}
	if recorder != nil {
		defer recorder.Close()
	}

	if showHistory {
		if recorder == nil {
			fmt.Fprintln(os.Stderr, "error: history is not available")
			os.Exit(1)
		}
		entries, err := recorder.Entries()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		printHistory(os.Stdout, entries)
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: resload [flags] URL...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	failed, err := run(ctx, runConfig{
		Settings: cfg,
		URLs:     flag.Args(),
		Method:   strings.ToUpper(method),
		Headers:  headers,
		Mode:     mode,
		SinkURL:  sinkURL,
		OutDir:   outDir,
		Parallel: parallel,
		Quiet:    quiet,
		History:  recorder,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func loadSettings(path string, overrides []string) (config.Settings, error) {
	var (
		cfg config.Settings
		err error
	)
	if path != "" {
		cfg, _, err = config.Load(path)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return cfg, err
	}
	cli, err := settings.ParseAssignments(overrides)
	if err != nil {
		return cfg, err
	}
	if err := settings.Apply(&cfg, settings.Merge(settings.FromEnv(os.Environ()), cli)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serve(ctx context.Context, addr string) error {
	logger := log.Default()
	srv := &http.Server{
		Addr: addr,
		Handler: stream.ServeConsumer(os.Stdout, func(msg stream.Message) {
			logger.Printf("consumer: load finished: %s", stream.StatusOf(msg))
		}, logger),
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Printf("consumer listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
