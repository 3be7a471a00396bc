// Package pipeline assembles the handler chain of a load:
//
//	telemetry -> throttles -> buffered sniffing -> terminal
package pipeline

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/resload/internal/buffered"
	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/telemetry"
	"github.com/unkn0wn-root/resload/internal/throttle"
)

// Config is shared by every chain a Builder makes.
type Config struct {
	Threads   dispatch.Threads
	Registry  *Registry
	Throttles []throttle.Factory
	// Tracer enables the telemetry layer when set.
	Tracer trace.Tracer

	DisableSniffing bool
	SniffWindow     int

	Logger *log.Logger
}

// Chain is one assembled pipeline.
type Chain struct {
	Outer    handler.Handler
	Throttle *throttle.Handler
	Buffered *buffered.Handler
}

// Terminal returns the handler currently at the end of the chain.
func (c *Chain) Terminal() handler.Handler {
	return c.Buffered.Next()
}

// Builder makes chains from a fixed Config.
type Builder struct {
	cfg Config
}

func New(cfg Config) *Builder {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Builder{cfg: cfg}
}

func (b *Builder) Registry() *Registry { return b.cfg.Registry }

// Build wraps terminal for req. The terminal handles the response unless
// the registry picks another one once the type is known.
func (b *Builder) Build(ctx context.Context, req *resource.Request, terminal handler.Handler) *Chain {
	cfg := b.cfg
	buf := buffered.New(terminal, req, buffered.Options{
		Selector:        cfg.Registry,
		Window:          cfg.SniffWindow,
		DisableSniffing: cfg.DisableSniffing,
		IO:              cfg.Threads.IO,
		Logger:          cfg.Logger,
	})
	thr := throttle.NewHandler(buf, req, throttle.FromFactories(req, cfg.Throttles), throttle.Options{
		IO:     cfg.Threads.IO,
		Logger: cfg.Logger,
	})
	chain := &Chain{Outer: thr, Throttle: thr, Buffered: buf}
	if cfg.Tracer != nil {
		chain.Outer = telemetry.NewHandler(ctx, thr, req, cfg.Tracer)
	}
	return chain
}
