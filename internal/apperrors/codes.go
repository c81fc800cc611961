package apperrors

// ErrorCode represents a machine-readable error identifier for API consumers.
type ErrorCode string

// Policy errors — the business policy document was missing, malformed, or
// the business is not ready to accept payments.
const (
	ErrCodePolicyNotFound    ErrorCode = "policy_not_found"
	ErrCodePolicyMalformed   ErrorCode = "policy_malformed"
	ErrCodePolicyInvariant   ErrorCode = "policy_invariant_violated"
	ErrCodeBusinessNotReady  ErrorCode = "not_ready"
)

// Validation errors — the request violates the active policy.
// These surface to callers as rejected responses, not HTTP errors.
const (
	ErrCodeChainNotAllowed  ErrorCode = "chain_not_allowed"
	ErrCodeTokenNotAllowed  ErrorCode = "token_not_allowed"
	ErrCodeAmountExceedsMax ErrorCode = "amount_exceeds_max"
	ErrCodeEMIDisabled      ErrorCode = "emi_disabled"
	ErrCodeInvalidAmount    ErrorCode = "invalid_amount"
	ErrCodeMissingField     ErrorCode = "missing_field"
	ErrCodeInvalidBody      ErrorCode = "invalid_body"
)

// Record errors.
const (
	ErrCodeRecordNotFound ErrorCode = "payment_not_found"
	ErrCodeRecordConflict ErrorCode = "payment_conflict"
)

// Chain interaction errors.
const (
	ErrCodeRPCError        ErrorCode = "rpc_error"
	ErrCodeTxFailed        ErrorCode = "tx_failed"
	ErrCodePaymentExpired  ErrorCode = "payment_expired"
	ErrCodeMonitorConflict ErrorCode = "monitor_already_running"
)

// Internal/system errors.
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeStorageError  ErrorCode = "storage_error"
	ErrCodeConfigError   ErrorCode = "config_error"
	ErrCodeSealError     ErrorCode = "seal_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient network/service issues, never policy or
// validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRPCError,
		ErrCodeStorageError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - input validation errors
	case ErrCodeInvalidAmount,
		ErrCodeMissingField:
		return 400

	// 404 Not Found
	case ErrCodeRecordNotFound,
		ErrCodePolicyNotFound:
		return 404

	// 409 Conflict
	case ErrCodeRecordConflict,
		ErrCodeMonitorConflict:
		return 409

	// 422 Unprocessable - policy rejections carry their own response body,
	// but direct surfacing maps here
	case ErrCodeChainNotAllowed,
		ErrCodeTokenNotAllowed,
		ErrCodeAmountExceedsMax,
		ErrCodeEMIDisabled,
		ErrCodeBusinessNotReady:
		return 422

	// 502 Bad Gateway - external service errors
	case ErrCodeRPCError,
		ErrCodeTxFailed:
		return 502

	// 500 Internal Server Error
	default:
		return 500
	}
}
