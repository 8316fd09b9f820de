package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

type TableController struct {
	Assignments *services.AssignmentService
	Silences    *services.SilenceService
	Staff       *services.StaffService
}

func NewTableController(assignments *services.AssignmentService, silences *services.SilenceService, staff *services.StaffService) *TableController {
	return &TableController{Assignments: assignments, Silences: silences, Staff: staff}
}

type tableRequest struct {
	TableID  uint `json:"table_id" binding:"required"`
	WaiterID uint `json:"waiter_id"`
}

type bulkTableRequest struct {
	TableIDs []uint `json:"table_ids" binding:"required"`
}

// Activate assigns a table to the caller, or to waiter_id when an admin asks.
func (tc *TableController) Activate(c *gin.Context) {
	var req tableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	scope := middlewares.CurrentScope(c)
	waiterID := scope.UserID
	if req.WaiterID != 0 {
		waiterID = req.WaiterID
	}

	table, err := tc.Assignments.Assign(c.Request.Context(), scope, req.TableID, waiterID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table activated", table)
}

func (tc *TableController) Deactivate(c *gin.Context) {
	var req tableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	table, err := tc.Assignments.Unassign(c.Request.Context(), middlewares.CurrentScope(c), req.TableID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table deactivated", table)
}

func (tc *TableController) ActivateBulk(c *gin.Context) {
	tc.bulk(c, tc.Assignments.AssignMany)
}

func (tc *TableController) DeactivateBulk(c *gin.Context) {
	tc.bulk(c, tc.Assignments.UnassignMany)
}

// bulk answers 200 when every table succeeded and 207 otherwise.
func (tc *TableController) bulk(c *gin.Context, fn func(ctx context.Context, scope services.Scope, ids []uint) ([]services.BulkResult, error)) {
	var req bulkTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	results, err := fn(c.Request.Context(), middlewares.CurrentScope(c), req.TableIDs)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	code, message := http.StatusOK, "All tables processed"
	if failed > 0 {
		code, message = http.StatusMultiStatus, "Some tables could not be processed"
	}
	c.JSON(code, utils.JSONResponse{
		Status:  failed == 0,
		Message: message,
		Data: gin.H{
			"results":   results,
			"succeeded": len(results) - failed,
			"failed":    failed,
		},
	})
}

func (tc *TableController) MyTables(c *gin.Context) {
	tables, err := tc.Assignments.WaiterTables(c.Request.Context(), middlewares.CurrentScope(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Assigned tables", tables)
}

// Silence mutes a table: POST /waiter/tables/:table_id/silence
func (tc *TableController) Silence(c *gin.Context) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	var req struct {
		DurationMinutes int    `json:"duration_minutes"`
		Notes           string `json:"notes" binding:"max=500"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	silence, err := tc.Silences.Silence(c.Request.Context(), middlewares.CurrentScope(c), tableID, req.DurationMinutes, req.Notes)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table silenced", silence)
}

func (tc *TableController) Unsilence(c *gin.Context) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	silence, err := tc.Silences.Unsilence(c.Request.Context(), middlewares.CurrentScope(c), tableID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table unsilenced", silence)
}

func (tc *TableController) SilenceStatus(c *gin.Context) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	silence, err := tc.Silences.Active(c.Request.Context(), middlewares.CurrentScope(c), tableID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Silence status", gin.H{
		"silenced": silence != nil,
		"silence":  silence,
	})
}

// CreateTable is the admin table setup: POST /admin/tables
func (tc *TableController) CreateTable(c *gin.Context) {
	var req struct {
		Number               int   `json:"number" binding:"required,min=1"`
		NotificationsEnabled *bool `json:"notifications_enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	enabled := true
	if req.NotificationsEnabled != nil {
		enabled = *req.NotificationsEnabled
	}
	table, err := tc.Staff.CreateTable(c.Request.Context(), middlewares.CurrentScope(c), req.Number, enabled)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

func (tc *TableController) ListTables(c *gin.Context) {
	tables, err := tc.Staff.ListTables(c.Request.Context(), middlewares.CurrentScope(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Tables", tables)
}

// UpdateTable toggles notifications: PATCH /admin/tables/:table_id
func (tc *TableController) UpdateTable(c *gin.Context) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	var req struct {
		NotificationsEnabled *bool `json:"notifications_enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	table, err := tc.Staff.SetNotifications(c.Request.Context(), middlewares.CurrentScope(c), tableID, *req.NotificationsEnabled)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table updated successfully", table)
}
