// Package httpapi exposes the engine facade over HTTP using gin, following
// the spec's route list for connectors, integrations, connections, flows,
// sync jobs, and actions.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexusflow/flowcore/engine/core"
)

// ErrorResponse is the standardized error body every non-2xx response uses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is the standardized success body.
type SuccessResponse struct {
	Data any `json:"data"`
}

func sendError(c *gin.Context, status int, label, code, details string) {
	c.JSON(status, ErrorResponse{Error: label, Code: code, Details: details})
	c.Abort()
}

func sendSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{Data: data})
}

// respondEngineError maps an engine *core.Error onto the HTTP status its
// Code implies. An error that is not one of ours is treated as internal.
func respondEngineError(c *gin.Context, err error) {
	engineErr, ok := err.(*core.Error)
	if !ok {
		sendError(c, http.StatusInternalServerError, "Internal Server Error", "", err.Error())
		return
	}
	switch engineErr.Code {
	case core.CodeNotFound:
		sendError(c, http.StatusNotFound, "Not Found", engineErr.Code, engineErr.Message)
	case core.CodeAlreadyExists:
		sendError(c, http.StatusConflict, "Already Exists", engineErr.Code, engineErr.Message)
	case core.CodeInvalidArgument:
		sendError(c, http.StatusBadRequest, "Bad Request", engineErr.Code, engineErr.Message)
	case core.CodeRateLimited:
		sendError(c, http.StatusTooManyRequests, "Rate Limit Exceeded", engineErr.Code, engineErr.Message)
	case core.CodeTimeout:
		sendError(c, http.StatusGatewayTimeout, "Upstream Timeout", engineErr.Code, engineErr.Message)
	case core.CodeUpstream, core.CodeFlowStepFailed:
		sendError(c, http.StatusBadGateway, "Upstream Error", engineErr.Code, engineErr.Message)
	case core.CodeSessionExpired:
		sendError(c, http.StatusGone, "Session Expired", engineErr.Code, engineErr.Message)
	default:
		sendError(c, http.StatusInternalServerError, "Internal Server Error", engineErr.Code, engineErr.Message)
	}
}
