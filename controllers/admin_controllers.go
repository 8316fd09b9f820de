package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

type AdminController struct {
	Dashboard *services.DashboardService
}

func NewAdminController(dashboard *services.DashboardService) *AdminController {
	return &AdminController{Dashboard: dashboard}
}

// GetDashboardStats returns today's business overview.
func (ac *AdminController) GetDashboardStats(c *gin.Context) {
	overview, err := ac.Dashboard.Overview(c.Request.Context(), middlewares.CurrentScope(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Dashboard stats retrieved successfully", overview)
}
