package http

import "github.com/fyrsmithlabs/feedbackd/internal/feedback"

// HealthResponse is the response body for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response body for GET /api/feedback/stats.
type StatsResponse struct {
	Top5 []feedback.LabelCount `json:"top5"`
}

// StatusResponse is the response body for GET /api/feedback/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
	Counts   StatusCounts      `json:"counts"`
}

// StatusCounts contains row counts. -1 means the count is unavailable.
type StatusCounts struct {
	Corrections int64 `json:"corrections"`
}

// ErrorResponse wraps every error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is a machine-readable rejection reason.
type ErrorBody struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Fields  []feedback.FieldError `json:"fields,omitempty"`
}

// Error codes.
const (
	CodeValidation  = "validation_failed"
	CodeAuth        = "unauthorized"
	CodeRateLimited = "rate_limited"
	CodeFormat      = "invalid_format"
	CodeStorage     = "storage_failure"
	CodeNotFound    = "not_found"
	CodeInternal    = "internal_error"
)
