package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/carstudio/errs"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

type errorDetail struct {
	Kind      errs.Kind `json:"kind"`
	Provider  string    `json:"provider,omitempty"`
	Retriable bool      `json:"retriable"`
}

// errTooLarge marks an upload over its size ceiling.
var errTooLarge = errors.New("payload too large")

func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Message: "ok",
		Code:    http.StatusOK,
	})
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	c.JSON(status, APIResponse{
		Success: false,
		Data: errorDetail{
			Kind:      errs.KindOf(err),
			Provider:  errs.ProviderOf(err),
			Retriable: errs.Retriable(err),
		},
		Message: err.Error(),
		Code:    status,
	})
}

func statusOf(err error) int {
	if errors.Is(err, errTooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch errs.KindOf(err) {
	case errs.KindInvalidImage:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindUnavailableProvider:
		return http.StatusServiceUnavailable
	case errs.KindUpstream:
		return http.StatusBadGateway
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
