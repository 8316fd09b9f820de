package utils

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/waiter-call/apperrors"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// RespondServiceError maps a service error to its status code. Classified
// errors carry their details; anything else is logged and hidden behind a 500.
func RespondServiceError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		_, errLog := Loggers()
		errLog.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.FullPath(),
		}).WithError(err).Error("unexpected error")
		c.JSON(http.StatusInternalServerError, JSONResponse{
			Status:  false,
			Message: "internal server error",
		})
		return
	}

	code := apperrors.HTTPStatus(appErr.Kind)
	if appErr.Kind == apperrors.KindRateLimited {
		if secs, ok := appErr.Details[apperrors.DetailRemainingSeconds].(int); ok && secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	var data interface{}
	if len(appErr.Details) > 0 {
		data = appErr.Details
	}
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: appErr.Message,
		Error:   string(appErr.Kind),
		Data:    data,
	})
}

// RespondBindError reports a request body/query that failed binding.
func RespondBindError(c *gin.Context, err error) {
	RespondServiceError(c, apperrors.Validation("invalid request: %v", err))
}
