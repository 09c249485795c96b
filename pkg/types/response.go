// Package types holds the JSON envelopes shared by every broker API response.
package types

// SuccessEnvelope wraps successful payloads under a single data key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the wire form of a classified failure.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope carries exactly one APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
