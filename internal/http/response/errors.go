package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/platform/apierr"
)

type APIError struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Detail APIError `json:"detail"`
}

// StatusForCode maps a machine code to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case types.CodeNetworkError:
		return http.StatusBadGateway
	case types.CodeVideoUnavailable, types.CodeCorruptSource, types.CodeUnsupportedCodec:
		return http.StatusUnprocessableEntity
	case types.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case types.CodeTimeout:
		return http.StatusGatewayTimeout
	case types.CodeDiskFull:
		return http.StatusInsufficientStorage
	}
	switch types.KindForCode(code) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindOverload:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts a service error into an API error. Errors without a
// machine code become a 500 whose cause is not shown to the client.
func FromError(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	code := types.CodeOf(err)
	if code == types.CodeInternal {
		return apierr.New(http.StatusInternalServerError, types.CodeInternal, errors.New("internal server error"))
	}
	out := apierr.New(StatusForCode(code), code, err)
	var de *types.Error
	if errors.As(err, &de) {
		out.Details = de.Details
	}
	return out
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Detail: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError writes err using its mapped status and code.
func RespondAPIError(c *gin.Context, err error) {
	ae := FromError(err)
	msg := "unknown error"
	if ae.Err != nil {
		msg = ae.Err.Error()
	}
	c.JSON(ae.Status, ErrorEnvelope{
		Detail: APIError{
			Message: msg,
			Code:    ae.Code,
			Details: ae.Details,
		},
	})
}
