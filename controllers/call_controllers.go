package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/models"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

type CallController struct {
	Calls *services.CallService
}

func NewCallController(calls *services.CallService) *CallController {
	return &CallController{Calls: calls}
}

// CreateCall is the public QR entry point: POST /tables/:table_id/calls
func (cc *CallController) CreateCall(c *gin.Context) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message" binding:"max=500"`
		Urgency string `json:"urgency"`
	}
	// an empty body is a plain call
	if !bindOptionalJSON(c, &req) {
		return
	}

	call, err := cc.Calls.Create(c.Request.Context(), services.TableScope(), tableID, services.CreateCallInput{
		Message:   req.Message,
		Urgency:   models.Urgency(req.Urgency),
		Source:    models.CallSourceQR,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Waiter has been notified", services.NewCallView(*call))
}

// GetCall lets the table poll its call: GET /tables/:table_id/calls/:call_id
func (cc *CallController) GetCall(c *gin.Context) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	callID, ok := paramID(c, "call_id")
	if !ok {
		return
	}
	view, err := cc.Calls.Get(c.Request.Context(), services.TableScope(), tableID, callID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Call status", view)
}

func (cc *CallController) Acknowledge(c *gin.Context) {
	callID, ok := paramID(c, "call_id")
	if !ok {
		return
	}
	call, err := cc.Calls.Acknowledge(c.Request.Context(), middlewares.CurrentScope(c), callID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Call acknowledged", services.NewCallView(*call))
}

func (cc *CallController) Complete(c *gin.Context) {
	callID, ok := paramID(c, "call_id")
	if !ok {
		return
	}
	call, err := cc.Calls.Complete(c.Request.Context(), middlewares.CurrentScope(c), callID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Call completed", services.NewCallView(*call))
}

func (cc *CallController) ListPending(c *gin.Context) {
	calls, err := cc.Calls.ListPending(c.Request.Context(), middlewares.CurrentScope(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Pending calls", calls)
}

// History: GET /waiter/calls/history?filter=hour|today|historic&page=1&limit=20
func (cc *CallController) History(c *gin.Context) {
	var q struct {
		Filter string `form:"filter"`
		Page   int    `form:"page"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	page, err := cc.Calls.History(c.Request.Context(), middlewares.CurrentScope(c), q.Filter, q.Page, q.Limit)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Call history", page)
}
