package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

type DashboardController struct {
	Dashboard *services.DashboardService
}

func NewDashboardController(dashboard *services.DashboardService) *DashboardController {
	return &DashboardController{Dashboard: dashboard}
}

func (dc *DashboardController) GetDashboard(c *gin.Context) {
	dash, err := dc.Dashboard.Dashboard(c.Request.Context(), middlewares.CurrentScope(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Dashboard", dash)
}

// TableStatuses lists the waiter's tables, most urgent first.
func (dc *DashboardController) TableStatuses(c *gin.Context) {
	statuses, err := dc.Dashboard.TableStatuses(c.Request.Context(), middlewares.CurrentScope(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table status", statuses)
}
