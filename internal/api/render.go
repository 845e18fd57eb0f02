// Package api is the HTTP surface: a gin router over the domain
// services with bearer authentication, role gating, per-IP rate limits
// and a uniform {error, code} error body.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/apperr"
	"github.com/openvault/staked/internal/store"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.DomainRejection:
		return http.StatusBadRequest
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err and aborts the request. Unclassified errors render
// as opaque 500s; their details go to the log only.
func fail(c *gin.Context, log logrus.FieldLogger, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "not found"})
		return
	}

	var e *apperr.E
	if errors.As(err, &e) {
		status := statusOf(e.Kind)
		if status >= http.StatusInternalServerError {
			log.WithError(err).Error("request failed")
			c.AbortWithStatusJSON(status, errorBody{Error: "internal error"})
			return
		}
		c.AbortWithStatusJSON(status, errorBody{Error: e.Msg, Code: e.Code})
		return
	}

	log.WithError(err).Error("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg})
}
