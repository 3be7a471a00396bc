package throttle

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/resource"
)

// AuthConfig holds client credentials for the token endpoint.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// AuthThrottle fetches an access token off the IO actor and attaches it
// to the request before it starts. Requests that already carry an
// Authorization header pass through.
type AuthThrottle struct {
	Base
	source oauth2.TokenSource
	io     dispatch.Runner
}

func NewAuthThrottle(source oauth2.TokenSource, io dispatch.Runner) *AuthThrottle {
	return &AuthThrottle{source: source, io: io}
}

// AuthFactory shares one caching token source across requests. It
// returns nil when no token endpoint is configured.
func AuthFactory(ctx context.Context, cfg AuthConfig, io dispatch.Runner) Factory {
	if cfg.TokenURL == "" {
		return nil
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	source := oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))
	return func(*resource.Request) Throttle {
		return NewAuthThrottle(source, io)
	}
}

func (a *AuthThrottle) Name() string { return "auth" }

func (a *AuthThrottle) WillStartRequest(req *resource.Request) bool {
	if req.Header.Get("Authorization") != "" {
		return false
	}
	c := a.Controller()
	go func() {
		tok, err := a.source.Token()
		a.io.Post(func() {
			if err != nil || !tok.Valid() {
				c.CancelWithError(resource.ErrAccessDenied)
				return
			}
			req.Header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
			c.Resume()
		})
	}()
	return true
}
