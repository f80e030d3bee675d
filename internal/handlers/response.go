package handlers

import (
	"errors"
	"net/http"

	"stockfolio/internal/accounting"
	"stockfolio/internal/market"
	"stockfolio/internal/models"
	"stockfolio/internal/service"

	"github.com/gin-gonic/gin"
)

// envelope is the body of every /api response except search.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, envelope{Success: false, Error: msg})
}

// respondError maps service errors onto status codes. notFound is the 404
// message for the route; internal is the generic 500 message, and the real
// error only goes to the log.
func (h *Handler) respondError(c *gin.Context, err error, notFound, internal string) {
	var verr *service.ValidationError
	var short *accounting.InsufficientUnitsError
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, verr.Msg)
	case errors.As(err, &short):
		fail(c, http.StatusBadRequest, short.Error())
	case errors.Is(err, service.ErrEmailTaken):
		fail(c, http.StatusBadRequest, service.ErrEmailTaken.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, service.ErrInvalidCredentials.Error())
	case errors.Is(err, models.ErrConflict):
		fail(c, http.StatusBadRequest, "Already exists")
	case errors.Is(err, models.ErrNotFound):
		if notFound == "" {
			notFound = "Not found"
		}
		fail(c, http.StatusNotFound, notFound)
	case errors.Is(err, market.ErrUnavailable):
		fail(c, http.StatusNotFound, "Price unavailable")
	case errors.Is(err, market.ErrNotConfigured):
		h.log.Warnf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		fail(c, http.StatusInternalServerError, "API key not configured")
	default:
		h.log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		fail(c, http.StatusInternalServerError, internal)
	}
}
