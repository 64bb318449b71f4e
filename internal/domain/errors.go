package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Combine with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrGenerating         = fmt.Errorf("a generation is already running for this conversation")
	ErrConversationEmpty  = fmt.Errorf("conversation has no messages")
	ErrToolCallNotFound   = fmt.Errorf("tool call not found")
	ErrUnknownTool        = fmt.Errorf("unknown tool")
	ErrToolInputInvalid   = fmt.Errorf("tool input invalid")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrCacheCorrupt       = fmt.Errorf("cache entry corrupt")
	ErrStoreFailure       = fmt.Errorf("conversation store failed")

	// Remote sync errors. A timeout is distinguishable from a failure
	// reported by the remote side.
	ErrSyncTimeout = fmt.Errorf("sync push: %w", ErrTimeout)
	ErrSyncRemote  = fmt.Errorf("sync push rejected by remote")
	ErrSyncClosed  = fmt.Errorf("sync channel closed")

	// Generator errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
	ErrUpstream    = fmt.Errorf("upstream generation failed")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Draft.Move")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "sync", "cache"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstream)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeGenerating         ErrorCode = "GENERATING"
	CodeConversationEmpty  ErrorCode = "CONVERSATION_EMPTY"
	CodeToolCallNotFound   ErrorCode = "TOOL_CALL_NOT_FOUND"
	CodeUnknownTool        ErrorCode = "UNKNOWN_TOOL"
	CodeToolInputInvalid   ErrorCode = "TOOL_INPUT_INVALID"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeCacheCorrupt       ErrorCode = "CACHE_CORRUPT"
	CodeStoreFailure       ErrorCode = "STORE_FAILURE"
	CodeSyncTimeout        ErrorCode = "SYNC_TIMEOUT"
	CodeSyncRemote         ErrorCode = "SYNC_REMOTE"
	CodeSyncClosed         ErrorCode = "SYNC_CLOSED"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeUpstream           ErrorCode = "UPSTREAM"
	CodeGatewayAuth        ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound  ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload  ErrorCode = "RPC_INVALID_PAYLOAD"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeDraftNotFound  ErrorCode = "DRAFT_NOT_FOUND"
	CodeStoreNotFound  ErrorCode = "STORE_NOT_FOUND"
	CodeGeneratorError ErrorCode = "GENERATOR_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// More specific sentinels are checked before the categories they wrap.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrGenerating:         CodeGenerating,
	ErrConversationEmpty:  CodeConversationEmpty,
	ErrToolCallNotFound:   CodeToolCallNotFound,
	ErrUnknownTool:        CodeUnknownTool,
	ErrToolInputInvalid:   CodeToolInputInvalid,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrConfigLoad:         CodeConfigLoad,
	ErrCacheCorrupt:       CodeCacheCorrupt,
	ErrStoreFailure:       CodeStoreFailure,
	ErrSyncTimeout:        CodeSyncTimeout,
	ErrSyncRemote:         CodeSyncRemote,
	ErrSyncClosed:         CodeSyncClosed,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrUpstream:           CodeUpstream,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:  CodeRPCInvalidPayload,
}

// wrappingSentinels are sentinels that wrap a category sentinel; they must
// win over the category when walking an error chain.
var wrappingSentinels = []error{ErrSyncTimeout, ErrGatewayAuthFailed}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"draft": CodeDraftNotFound,
		"store": CodeStoreNotFound,
	},
	ErrProviderError: {
		"generator": CodeGeneratorError,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range wrappingSentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
