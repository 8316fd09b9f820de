package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeremiapane/waiter-call/controllers"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/models"
	"github.com/yeremiapane/waiter-call/services"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Calls       *services.CallService
	Silences    *services.SilenceService
	Assignments *services.AssignmentService
	Staff       *services.StaffService
	Dashboard   *services.DashboardService
	Hub         *fanout.Hub

	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	CORSOrigins         []string
	StrictTransport     bool
	PublicRatePerMinute int
	PublicPollPerMinute int
	TokenTTL            time.Duration
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.LoggerMiddleware())
	r.Use(middlewares.SecurityHeaders(deps.StrictTransport))
	r.Use(middlewares.CORSMiddlewares(deps.CORSOrigins))

	callCtrl := controllers.NewCallController(deps.Calls)
	tableCtrl := controllers.NewTableController(deps.Assignments, deps.Silences, deps.Staff)
	dashCtrl := controllers.NewDashboardController(deps.Dashboard)
	userCtrl := controllers.NewUserController(deps.Staff, deps.Assignments, deps.TokenTTL)
	adminCtrl := controllers.NewAdminController(deps.Dashboard)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// per-IP buckets: a strict one for login, a configurable one for table clients
	r.POST("/login", middlewares.NewIPRateLimiter(10, 5).RateLimit(), userCtrl.Login)

	publicRate := deps.PublicRatePerMinute
	if publicRate <= 0 {
		publicRate = 20
	}
	pollRate := deps.PublicPollPerMinute
	if pollRate <= 0 {
		pollRate = 120
	}
	// polling and call creation use separate buckets
	createLimit := middlewares.NewIPRateLimiter(publicRate, publicRate/2+1).RateLimit()
	pollLimit := middlewares.NewIPRateLimiter(pollRate, pollRate/2+1).RateLimit()
	tables := r.Group("/tables")
	{
		tables.POST("/:table_id/calls", createLimit, callCtrl.CreateCall)
		tables.GET("/:table_id/calls/:call_id", pollLimit, callCtrl.GetCall)
	}

	if deps.Hub != nil {
		r.GET("/ws", middlewares.WebSocketAuthMiddleware(), controllers.RealtimeHandler(deps.Hub))
	}

	// ----------------------------------------------------------------
	//                      WAITER ROUTES
	// ----------------------------------------------------------------
	waiter := r.Group("/waiter")
	waiter.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(models.RoleWaiter))
	{
		waiter.POST("/logout", userCtrl.Logout)
		waiter.POST("/devices", userCtrl.RegisterDevice)
		waiter.GET("/dashboard", dashCtrl.GetDashboard)

		waiter.GET("/calls/pending", callCtrl.ListPending)
		waiter.GET("/calls/history", callCtrl.History)
		waiter.POST("/calls/:call_id/acknowledge", callCtrl.Acknowledge)
		waiter.POST("/calls/:call_id/complete", callCtrl.Complete)

		waiter.GET("/tables", tableCtrl.MyTables)
		waiter.GET("/tables/status", dashCtrl.TableStatuses)
		waiter.POST("/tables/activate", tableCtrl.Activate)
		waiter.POST("/tables/deactivate", tableCtrl.Deactivate)
		waiter.POST("/tables/activate/bulk", tableCtrl.ActivateBulk)
		waiter.POST("/tables/deactivate/bulk", tableCtrl.DeactivateBulk)
		waiter.GET("/tables/:table_id/silence", tableCtrl.SilenceStatus)
		waiter.POST("/tables/:table_id/silence", tableCtrl.Silence)
		waiter.DELETE("/tables/:table_id/silence", tableCtrl.Unsilence)
	}

	// ----------------------------------------------------------------
	//                      ADMIN ROUTES
	// ----------------------------------------------------------------
	admin := r.Group("/admin")
	admin.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(models.RoleAdmin))
	{
		admin.POST("/logout", userCtrl.Logout)
		admin.GET("/dashboard", adminCtrl.GetDashboardStats)
		admin.GET("/tables", tableCtrl.ListTables)
		admin.POST("/tables", tableCtrl.CreateTable)
		admin.PATCH("/tables/:table_id", tableCtrl.UpdateTable)
		admin.POST("/tables/assign", tableCtrl.Activate)
		admin.POST("/tables/unassign", tableCtrl.Deactivate)
		admin.POST("/tables/:table_id/silence", tableCtrl.Silence)
		admin.DELETE("/tables/:table_id/silence", tableCtrl.Unsilence)

		admin.POST("/waiters", userCtrl.CreateStaff)
		admin.POST("/waiters/:user_id/archive", userCtrl.ArchiveWaiter)
	}

	return r
}
