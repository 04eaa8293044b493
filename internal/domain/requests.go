package domain

// ErrorResponse is the JSON body returned by the gatekeeper for structured
// errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RateLimitResponse is the 429 body. RetryAfter is expressed in seconds.
type RateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// PortalErrorResponse reports a specific portal access failure so the
// client can render an accurate message.
type PortalErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}
