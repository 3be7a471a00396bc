package main

import (
	"context"
	"log"

	"github.com/unkn0wn-root/resload/internal/config"
	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/scripts"
	"github.com/unkn0wn-root/resload/internal/throttle"
)

// throttleFactories turns the [throttle] and [oauth] settings into the
// ordered throttle list every chain gets.
func throttleFactories(ctx context.Context, cfg config.Settings, threads dispatch.Threads, logger *log.Logger) []throttle.Factory {
	t := cfg.Throttle
	var out []throttle.Factory
	if t.HasPolicy() {
		rules := &throttle.Rules{
			AllowHosts:     t.AllowHosts,
			DenyHosts:      t.DenyHosts,
			DenyUserAgents: t.DenyUserAgents,
			Script:         t.PolicyScript,
			Runner:         scripts.NewRunner(),
		}
		rules.OnScriptLog(func(msg string) { logger.Printf("policy script: %s", msg) })
		out = append(out, throttle.PolicyFactory(rules, threads))
	}
	if t.Rate > 0 {
		out = append(out, throttle.RateFactory(t.Rate, t.Burst))
	}
	if cfg.OAuth.Enabled() {
		out = append(out, throttle.AuthFactory(ctx, throttle.AuthConfig{
			TokenURL:     cfg.OAuth.TokenURL,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Scopes:       cfg.OAuth.Scopes,
		}, threads.IO))
	}
	if t.HeaderTimeout > 0 {
		out = append(out, throttle.TimeoutFactory(t.HeaderTimeout.Std()))
	}
	if cfg.Loader.FollowRedirects {
		out = append(out, throttle.RedirectFactory(cfg.Loader.MaxRedirects, t.HTTPSOnlyRedirects))
	}
	if len(t.BlockMime) > 0 {
		out = append(out, throttle.MimeFactory(t.BlockMime))
	}
	return out
}
