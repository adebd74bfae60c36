package errors

import (
	"strings"
	"testing"
)

func contains(t *testing.T, err error, wantCode int, codeFn func() int, subs ...string) {
	t.Helper()
	if got := codeFn(); got != wantCode {
		t.Errorf("Code() = %v, want %v", got, wantCode)
	}
	msg := err.Error()
	for _, want := range subs {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want to contain %q", msg, want)
		}
	}
}

func TestCircularAliasError(t *testing.T) {
	err := NewCircularAliasError("fast", []string{"fast", "default", "fast"})
	contains(t, err, CodeCircularAlias, err.Code, "fast", "default")
}

func TestInvalidBudgetError(t *testing.T) {
	err := NewInvalidBudgetError("soft_limit_percent", "must be between 0 and 100")
	contains(t, err, CodeInvalidBudget, err.Code, "soft_limit_percent", "must be between")
}

func TestInvalidThresholdError(t *testing.T) {
	err := NewInvalidThresholdError("failure_threshold", -1)
	contains(t, err, CodeInvalidThreshold, err.Code, "failure_threshold", "-1")
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("ollama-gpu", "5s")
	contains(t, err, CodeTimeout, err.Code, "ollama-gpu", "5s")
}

func TestConnectionFailedError(t *testing.T) {
	err := NewConnectionFailedError("ollama-gpu", "connection refused")
	contains(t, err, CodeConnectionFailed, err.Code, "ollama-gpu", "connection refused")
}

func TestDNSError(t *testing.T) {
	err := NewDNSError("ollama-gpu", "ollama.local")
	contains(t, err, CodeDNSError, err.Code, "ollama-gpu", "ollama.local")
}

func TestTLSError(t *testing.T) {
	err := NewTLSError("ollama-gpu", "certificate expired")
	contains(t, err, CodeTLSError, err.Code, "ollama-gpu", "certificate expired")
}

func TestHTTPError(t *testing.T) {
	err := NewHTTPError("ollama-gpu", 503)
	contains(t, err, CodeHTTPError, err.Code, "ollama-gpu", "503")
}

func TestParseError(t *testing.T) {
	err := NewParseError("ollama-gpu", "unexpected end of JSON input")
	contains(t, err, CodeParseError, err.Code, "ollama-gpu", "unexpected end of JSON input")
}

func TestModelNotFoundError(t *testing.T) {
	err := NewModelNotFoundError("llama3")
	contains(t, err, CodeModelNotFound, err.Code, "llama3", "not found")
}

func TestNoHealthyBackendError(t *testing.T) {
	err := NewNoHealthyBackendError("llama3")
	contains(t, err, CodeNoHealthyBackend, err.Code, "llama3", "no healthy backend")
}

func TestCapabilityMismatchError(t *testing.T) {
	err := NewCapabilityMismatchError("llama3", []string{"vision"})
	contains(t, err, CodeCapabilityMismatch, err.Code, "llama3", "vision")
}

func TestFallbackChainExhaustedError(t *testing.T) {
	err := NewFallbackChainExhaustedError([]string{"llama3", "llama3-small"})
	contains(t, err, CodeFallbackChainExhausted, err.Code, "llama3", "llama3-small")
}

func TestBudgetExceededError(t *testing.T) {
	err := NewBudgetExceededError(10050, 10000)
	contains(t, err, CodeBudgetExceeded, err.Code, "10050", "10000")
}
