package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fcmrelay/internal/shared"
	"fcmrelay/pkg/retry"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusOf(k shared.Kind) int {
	switch k {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindRateLimited:
		return http.StatusTooManyRequests
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	case shared.KindUnauthorized, shared.KindDependencyFailure:
		return http.StatusBadGateway
	case shared.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError aborts c with the JSON error body for err.
func writeError(c *gin.Context, err error) {
	abortWith(c, statusOf(shared.KindOf(err)), err)
}

func abortWith(c *gin.Context, status int, err error) {
	if ae, ok := retry.AsAfter(err); ok {
		c.Header(retry.HeaderRetryAfter, strconv.FormatInt(ae.DelaySeconds(), 10))
	}
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Kind: shared.KindOf(err).String()})
}
