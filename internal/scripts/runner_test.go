package scripts

import (
	"net/http"
	"testing"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

func TestRunPolicyBlocksByHost(t *testing.T) {
	runner := NewRunner()
	script := `if (request.getHost() === "ads.example.com") { policy.block("ads"); }`

	out, err := runner.RunPolicy(script, PolicyInput{Stage: "start", URL: "https://ads.example.com:8443/banner.js"})
	if err != nil {
		t.Fatalf("run policy: %v", err)
	}
	if !out.Blocked || out.Reason != "ads" {
		t.Fatalf("expected request to be blocked, got %#v", out)
	}

	out, err = runner.RunPolicy(script, PolicyInput{Stage: "start", URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("run policy: %v", err)
	}
	if out.Blocked {
		t.Fatalf("expected request to be allowed")
	}
}

func TestRunPolicySeesRedirectTarget(t *testing.T) {
	runner := NewRunner()
	script := `
console.log(stage, request.getHost());
if (stage === "redirect" && request.getHeader("X-Internal") !== "1") { policy.block("redirect"); }
`
	out, err := runner.RunPolicy(script, PolicyInput{
		Stage:    "redirect",
		URL:      "https://example.com/",
		Redirect: "http://other.test/x",
		Headers:  http.Header{"X-Internal": {"0"}},
	})
	if err != nil {
		t.Fatalf("run policy: %v", err)
	}
	if !out.Blocked {
		t.Fatalf("expected redirect to be blocked")
	}
	if len(out.Logs) != 1 || out.Logs[0] != "redirect other.test" {
		t.Fatalf("unexpected console output %#v", out.Logs)
	}
}

func TestRunPolicyScriptError(t *testing.T) {
	_, err := NewRunner().RunPolicy(`{% policy.nope() %}`, PolicyInput{})
	if !errdef.Is(err, errdef.CodeScript) {
		t.Fatalf("expected script error, got %v", err)
	}
}
