package runcore

import "fmt"

// CodedError is implemented by every taxonomy error below. TaskContext.step
// reads Code() explicitly (never via reflection/type-name introspection)
// when deciding what to record as a step's error_code.
type CodedError interface {
	error
	Code() string
}

// codeOf extracts the stable error code from err: CodedError.Code() if the
// error implements it with a non-empty code, else the Go type name.
func codeOf(err error) string {
	if err == nil {
		return ""
	}
	if ce, ok := err.(CodedError); ok {
		if c := ce.Code(); c != "" {
			return c
		}
	}
	return fmt.Sprintf("%T", err)
}

// CodeOf is the exported form of codeOf, used by taskctx and handlers.
func CodeOf(err error) string { return codeOf(err) }

// RetryableError optionally marks an error as retryable. Most taxonomy
// errors default to non-retryable; CodeWebBlocked is always retryable
// regardless of whether the concrete type implements this.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err should be surfaced to the user as
// retryable: true for CodeWebBlocked unconditionally, else whatever the
// error itself reports, else false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if codeOf(err) == CodeWebBlocked {
		return true
	}
	if re, ok := err.(RetryableError); ok {
		return re.Retryable()
	}
	return false
}

// DetailCodedError optionally supplies a finer-grained code alongside
// Code() — e.g. WebBlockedError's captcha_required/http_403/http_429.
type DetailCodedError interface {
	error
	DetailCode() string
}

// DetailCodeOf extracts the detail code from err, or "".
func DetailCodeOf(err error) string {
	if dc, ok := err.(DetailCodedError); ok {
		return dc.DetailCode()
	}
	return ""
}

// Stable error.code strings.
const (
	CodeToolNotFound      = "ToolNotFound"
	CodeInvalidInput      = "InvalidInput"
	CodePatchMismatch     = "PatchMismatch"
	CodeUnsupportedSkill  = "UNSUPPORTED_SKILL"
	CodeTimeout           = "Timeout"
	CodeNetworkError      = "NetworkError"
	CodeBadGateway        = "BadGateway"
	CodeAuthError         = "AuthError"
	CodeWebBlocked        = "WebBlocked"
	CodeWebParseError     = "WebParseError"
	CodeSSRFBlocked       = "ssrf_blocked"
	CodeWebProviderError  = "WebProviderError"
	CodePolicyDenied      = "POLICY_DENIED"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeRuntimeError      = "RUNTIME_ERROR"
	CodeSandboxTimeout    = "TIMEOUT"
	CodeSpawnFailed       = "SpawnFailed"
	CodeConnectionError   = "ConnectionError"
	CodeProviderClosed    = "ProviderClosed"
)

// ToolNotFoundError is raised by toolcatalog when a tool name resolves to
// no provider in the preferred order.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string { return "tool not found: " + e.Name }
func (e *ToolNotFoundError) Code() string  { return CodeToolNotFound }

// InvalidInputError is raised by providers that reject malformed args before
// dispatch.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }
func (e *InvalidInputError) Code() string  { return CodeInvalidInput }

// PatchMismatchError is raised by edit_docs_apply when the supplied patch_id
// prefix does not match the parent propose run's stored id.
type PatchMismatchError struct {
	Got, Want string
}

func (e *PatchMismatchError) Error() string {
	return fmt.Sprintf("patch id mismatch: got %q, parent has %q", e.Got, e.Want)
}
func (e *PatchMismatchError) Code() string { return CodePatchMismatch }

// SkillsListError is raised by SkillsProvider when the skill catalog cannot
// be listed and no fallback is configured.
type SkillsListError struct {
	BaseURL string
	Reason  string
}

func (e *SkillsListError) Error() string {
	return fmt.Sprintf("skills list failed (%s): %s", e.BaseURL, e.Reason)
}
func (e *SkillsListError) Code() string { return CodeUnsupportedSkill }

// TimeoutError is raised by any collaborator (HTTP, sandbox wait, agent
// loop wait) that exceeded its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string   { return "timeout: " + e.Op }
func (e *TimeoutError) Code() string    { return CodeTimeout }
func (e *TimeoutError) Retryable() bool { return true }

// NetworkError wraps a low-level transport failure (DNS, connection reset).
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string   { return "network error: " + e.Cause.Error() }
func (e *NetworkError) Unwrap() error   { return e.Cause }
func (e *NetworkError) Code() string    { return CodeNetworkError }
func (e *NetworkError) Retryable() bool { return true }

// BadGatewayError is raised when a backend returns a 5xx status.
type BadGatewayError struct {
	Status int
}

func (e *BadGatewayError) Error() string   { return fmt.Sprintf("bad gateway: http %d", e.Status) }
func (e *BadGatewayError) Code() string    { return CodeBadGateway }
func (e *BadGatewayError) Retryable() bool { return true }

// AuthError is raised on 401/403 from an authenticated backend.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error: http %d", e.Status) }
func (e *AuthError) Code() string  { return CodeAuthError }

// WebBlockedError is raised when a search/fetch backend detects a block
// page, captcha, or rate limit. DetailCode narrows the
// reason; the message it carries is never shown to the user — taskctx
// always substitutes the localized rate-limit hint for CodeWebBlocked.
type WebBlockedError struct {
	Reason string
	Detail string // captcha_required | http_403 | http_429
}

func (e *WebBlockedError) Error() string     { return "web blocked: " + e.Reason }
func (e *WebBlockedError) Code() string      { return CodeWebBlocked }
func (e *WebBlockedError) DetailCode() string { return e.Detail }
func (e *WebBlockedError) Retryable() bool    { return true }

// WebParseError is raised when a backend's response body can't be parsed
// into the expected shape (HTML markup drift, invalid JSON).
type WebParseError struct {
	Reason string
}

func (e *WebParseError) Error() string { return "web parse error: " + e.Reason }
func (e *WebParseError) Code() string  { return CodeWebParseError }

// SSRFBlockedError is raised by the fetch backend's SSRF guard when a URL
// resolves to a private/loopback/link-local address.
type SSRFBlockedError struct {
	Host string
}

func (e *SSRFBlockedError) Error() string { return "ssrf blocked: " + e.Host }
func (e *SSRFBlockedError) Code() string  { return CodeSSRFBlocked }

// WebProviderError is the catch-all for WebProvider failures that don't fit
// a more specific taxonomy entry.
type WebProviderError struct {
	Reason string
}

func (e *WebProviderError) Error() string { return "web provider error: " + e.Reason }
func (e *WebProviderError) Code() string  { return CodeWebProviderError }

// PolicyDeniedError is raised by the sandbox when a request shape violates
// the effective policy.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string { return "policy denied: " + e.Reason }
func (e *PolicyDeniedError) Code() string  { return CodePolicyDenied }

// InvalidArgumentError is raised by the sandbox for malformed exec requests
// (path traversal, unsupported kind).
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string { return "invalid argument: " + e.Reason }
func (e *InvalidArgumentError) Code() string  { return CodeInvalidArgument }

// RuntimeError is raised by the sandbox on container/IO failure.
type RuntimeError struct {
	Cause error
}

func (e *RuntimeError) Error() string { return "runtime error: " + e.Cause.Error() }
func (e *RuntimeError) Unwrap() error { return e.Cause }
func (e *RuntimeError) Code() string  { return CodeRuntimeError }

// SandboxTimeoutError is raised when an exec exceeds its policy timeout_ms.
type SandboxTimeoutError struct{}

func (e *SandboxTimeoutError) Error() string   { return "sandbox exec timed out" }
func (e *SandboxTimeoutError) Code() string    { return CodeSandboxTimeout }
func (e *SandboxTimeoutError) Retryable() bool { return true }

// SpawnFailedError is raised by the MCP provider when the subprocess exec
// itself fails (missing binary, permission denied).
type SpawnFailedError struct {
	Cause error
}

func (e *SpawnFailedError) Error() string { return "mcp spawn failed: " + e.Cause.Error() }
func (e *SpawnFailedError) Unwrap() error { return e.Cause }
func (e *SpawnFailedError) Code() string  { return CodeSpawnFailed }

// MCPTimeoutError is raised when an MCP request's per-call queue wait
// exceeds its timeout.
type MCPTimeoutError struct{}

func (e *MCPTimeoutError) Error() string   { return "mcp request timed out" }
func (e *MCPTimeoutError) Code() string    { return CodeTimeout }
func (e *MCPTimeoutError) Retryable() bool { return true }

// ConnectionError is raised by the MCP provider when the stdio pipe closes
// or the subprocess exits unexpectedly.
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string { return "mcp connection error: " + e.Reason }
func (e *ConnectionError) Code() string  { return CodeConnectionError }

// ProviderClosedError is raised when Invoke is called on an MCP provider
// after Close() has already run.
type ProviderClosedError struct{}

func (e *ProviderClosedError) Error() string { return "mcp provider closed" }
func (e *ProviderClosedError) Code() string  { return CodeProviderClosed }
