package scripts

import (
	"net/http"
	"strings"

	"github.com/dop251/goja"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

// Runner evaluates policy scripts. Every evaluation gets a fresh VM, so a
// Runner is safe to share.
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// PolicyInput is what a policy script can see about the request.
type PolicyInput struct {
	Stage     string
	URL       string
	Method    string
	Headers   http.Header
	Redirect  string
	UserAgent string
}

// PolicyDecision is the script verdict. Scripts that neither allow nor
// block leave the request allowed.
type PolicyDecision struct {
	Blocked bool
	Reason  string
	Logs    []string
}

func (r *Runner) RunPolicy(script string, input PolicyInput) (PolicyDecision, error) {
	var decision PolicyDecision
	script = normalizeScript(script)
	if script == "" {
		return decision, nil
	}

	vm := goja.New()
	api := &policyAPI{input: input, decision: &decision}
	bindConsole(vm, &decision.Logs)
	vm.Set("request", api.requestAPI())
	vm.Set("policy", api.policyAPI())
	vm.Set("stage", input.Stage)

	if _, err := vm.RunString(script); err != nil {
		return decision, errdef.Wrap(errdef.CodeScript, err, "execute policy script")
	}
	return decision, nil
}

func bindConsole(vm *goja.Runtime, logs *[]string) {
	record := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		*logs = append(*logs, strings.Join(parts, " "))
		return goja.Undefined()
	}
	console := map[string]func(goja.FunctionCall) goja.Value{
		"log":   record,
		"warn":  record,
		"error": record,
	}
	vm.Set("console", console)
}

func normalizeScript(body string) string {
	script := strings.TrimSpace(body)
	if script == "" {
		return script
	}

	if strings.HasPrefix(script, "{%") && strings.HasSuffix(script, "%}") {
		script = strings.TrimSpace(script[2 : len(script)-2])
	}

	return script
}

type policyAPI struct {
	input    PolicyInput
	decision *PolicyDecision
}

func (api *policyAPI) requestAPI() map[string]interface{} {
	return map[string]interface{}{
		"getURL":       func() string { return api.input.URL },
		"getMethod":    func() string { return api.input.Method },
		"getRedirect":  func() string { return api.input.Redirect },
		"getUserAgent": func() string { return api.input.UserAgent },
		"getHost": func() string {
			target := api.input.URL
			if api.input.Redirect != "" {
				target = api.input.Redirect
			}
			return hostOf(target)
		},
		"getHeader": func(name string) string {
			if api.input.Headers == nil {
				return ""
			}
			return api.input.Headers.Get(name)
		},
	}
}

func (api *policyAPI) policyAPI() map[string]interface{} {
	return map[string]interface{}{
		"allow": func() {
			api.decision.Blocked = false
			api.decision.Reason = ""
		},
		"block": func(reason string) {
			api.decision.Blocked = true
			api.decision.Reason = reason
		},
	}
}

func hostOf(raw string) string {
	rest := raw
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.LastIndexByte(rest, '@'); idx >= 0 {
		rest = rest[idx+1:]
	}
	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end > 0 {
			return rest[1:end]
		}
	}
	if idx := strings.LastIndexByte(rest, ':'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.ToLower(rest)
}
