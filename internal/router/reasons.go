package router

// Machine-readable rejection reasons surfaced to callers. A successful
// Response carries an empty reason; transports map these onto HTTP error
// bodies unchanged.
const (
	ReasonUnauthorized      = "unauthorized"
	ReasonQuotaExceeded     = "quota_exceeded"
	ReasonRateLimited       = "rate_limited"
	ReasonNoAvailableModels = "no_available_models"
	ReasonAllModelsFailed   = "all_models_failed"
	ReasonInvalidRequest    = "invalid_request"
)
