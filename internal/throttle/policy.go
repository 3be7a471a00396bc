package throttle

import (
	"net/http"
	"strings"
	"sync"

	"github.com/ua-parser/uap-go/uaparser"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/scripts"
)

// PolicyQuery is the frozen view of a request a Policy decides on. It is
// built on the IO actor and only read on the UI actor.
type PolicyQuery struct {
	Stage     string
	URL       string
	Host      string
	Method    string
	Header    http.Header
	Redirect  string
	UserAgent string
}

// Verdict is a policy decision.
type Verdict struct {
	Allow  bool
	Reason string
}

// Policy is owned by the UI actor and is only called there.
type Policy interface {
	Check(q PolicyQuery) Verdict
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(PolicyQuery) Verdict

func (f PolicyFunc) Check(q PolicyQuery) Verdict { return f(q) }

// Rules is the configurable Policy: host allow and deny lists, user agent
// families to refuse, and an optional script that runs last.
type Rules struct {
	AllowHosts       []string
	DenyHosts        []string
	DenyUserAgents   []string
	Script           string
	Runner           *scripts.Runner
	uaParser         *uaparser.Parser
	uaOnce           sync.Once
	scriptLogHandler func(string)
}

// OnScriptLog receives console output of the policy script.
func (r *Rules) OnScriptLog(fn func(string)) { r.scriptLogHandler = fn }

func (r *Rules) Check(q PolicyQuery) Verdict {
	host := strings.ToLower(q.Host)
	for _, pattern := range r.DenyHosts {
		if matchHost(pattern, host) {
			return Verdict{Reason: "host " + host + " is denied"}
		}
	}
	if len(r.AllowHosts) > 0 {
		allowed := false
		for _, pattern := range r.AllowHosts {
			if matchHost(pattern, host) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Verdict{Reason: "host " + host + " is not allowed"}
		}
	}
	if len(r.DenyUserAgents) > 0 && q.UserAgent != "" {
		family := r.family(q.UserAgent)
		for _, denied := range r.DenyUserAgents {
			if strings.EqualFold(strings.TrimSpace(denied), family) {
				return Verdict{Reason: "user agent family " + family + " is denied"}
			}
		}
	}
	if strings.TrimSpace(r.Script) != "" {
		runner := r.Runner
		if runner == nil {
			runner = scripts.NewRunner()
		}
		out, err := runner.RunPolicy(r.Script, scripts.PolicyInput{
			Stage:     q.Stage,
			URL:       q.URL,
			Method:    q.Method,
			Headers:   q.Header,
			Redirect:  q.Redirect,
			UserAgent: q.UserAgent,
		})
		if r.scriptLogHandler != nil {
			for _, line := range out.Logs {
				r.scriptLogHandler(line)
			}
		}
		if err != nil {
			return Verdict{Reason: err.Error()}
		}
		if out.Blocked {
			reason := out.Reason
			if reason == "" {
				reason = "blocked by policy script"
			}
			return Verdict{Reason: reason}
		}
	}
	return Verdict{Allow: true}
}

func (r *Rules) family(ua string) string {
	r.uaOnce.Do(func() {
		r.uaParser = uaparser.NewFromSaved()
	})
	parsed := r.uaParser.ParseUserAgent(ua)
	if parsed == nil {
		return ""
	}
	return parsed.Family
}

// matchHost matches exact hosts and "*.example.com" suffix patterns.
func matchHost(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix) || host == pattern[2:]
	}
	return host == pattern
}

// PolicyThrottle asks a UI actor Policy about the request at start and at
// every redirect. The checkpoint is deferred while the question is in
// flight.
type PolicyThrottle struct {
	Base
	policy  Policy
	threads dispatch.Threads
}

func NewPolicyThrottle(policy Policy, threads dispatch.Threads) *PolicyThrottle {
	return &PolicyThrottle{policy: policy, threads: threads}
}

// PolicyFactory returns a Factory for PolicyThrottle.
func PolicyFactory(policy Policy, threads dispatch.Threads) Factory {
	return func(*resource.Request) Throttle {
		return NewPolicyThrottle(policy, threads)
	}
}

func (p *PolicyThrottle) Name() string { return "policy" }

func (p *PolicyThrottle) WillStartRequest(req *resource.Request) bool {
	return p.ask(newQuery("start", req, nil))
}

func (p *PolicyThrottle) WillRedirectRequest(req *resource.Request, rd *resource.Redirect) bool {
	return p.ask(newQuery("redirect", req, rd))
}

func (p *PolicyThrottle) ask(q PolicyQuery) bool {
	if p.policy == nil {
		return false
	}
	c := p.Controller()
	p.threads.UI.Post(func() {
		verdict := p.policy.Check(q)
		p.threads.IO.Post(func() {
			if verdict.Allow {
				c.Resume()
				return
			}
			c.CancelWithError(resource.ErrBlockedByClient)
		})
	})
	return true
}

func newQuery(stage string, req *resource.Request, rd *resource.Redirect) PolicyQuery {
	q := PolicyQuery{
		Stage:     stage,
		URL:       req.URL.String(),
		Host:      req.URL.Hostname(),
		Method:    req.Method,
		Header:    req.Header.Clone(),
		UserAgent: req.Header.Get("User-Agent"),
	}
	if rd != nil && rd.NewURL != nil {
		q.Redirect = rd.NewURL.String()
		q.Host = rd.NewURL.Hostname()
	}
	return q
}
