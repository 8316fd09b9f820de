package controllers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/utils"
)

// paramID reads a positive numeric path parameter, responding 400 when it
// is not one.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.RespondServiceError(c, apperrors.Validation("%s must be a positive integer", name))
		return 0, false
	}
	return uint(id), true
}

// bindOptionalJSON binds a body that may be empty, whatever its declared
// length. It responds 400 and returns false on malformed input.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondBindError(c, err)
		return false
	}
	return true
}
