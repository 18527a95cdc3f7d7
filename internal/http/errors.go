package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// handleError maps domain errors to status codes and a JSON error body.
func (s *Server) handleError(err error, c echo.Context) {
	ctx := c.Request().Context()
	if c.Response().Committed {
		s.logger.Warn(ctx, "error after response committed", zap.Error(err))
		return
	}

	status, body := errorResponse(err)

	var rl *feedback.RateLimitError
	if errors.As(err, &rl) {
		c.Response().Header().Set("Retry-After", retryAfterSeconds(rl))
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Int("status", status), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: body})
	}
	if err != nil {
		s.logger.Warn(ctx, "failed to write error response", zap.Error(err))
	}
}

// errorResponse classifies err. Storage details never reach the client.
func errorResponse(err error) (int, ErrorBody) {
	var (
		verr    *feedback.ValidationError
		authErr *feedback.AuthError
		rl      *feedback.RateLimitError
		ferr    *feedback.FormatError
		herr    *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorBody{
			Code:    CodeValidation,
			Message: "request body failed validation",
			Fields:  verr.Fields,
		}
	case errors.As(err, &authErr):
		return http.StatusForbidden, ErrorBody{Code: CodeAuth, Message: authErr.Reason}
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, ErrorBody{Code: CodeRateLimited, Message: rl.Error()}
	case errors.As(err, &ferr):
		return http.StatusBadRequest, ErrorBody{Code: CodeFormat, Message: ferr.Error()}
	case errors.Is(err, feedback.ErrStorage):
		return http.StatusInternalServerError, ErrorBody{Code: CodeStorage, Message: "storage failure"}
	case errors.As(err, &herr):
		return herr.Code, ErrorBody{Code: httpErrorCode(herr.Code), Message: http.StatusText(herr.Code)}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"}
	}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusBadRequest:
		return "bad_request"
	default:
		if status >= http.StatusInternalServerError {
			return CodeInternal
		}
		return "http_error"
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum one.
func retryAfterSeconds(rl *feedback.RateLimitError) string {
	secs := int(math.Ceil(rl.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
