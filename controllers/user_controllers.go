package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/models"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

type UserController struct {
	Staff       *services.StaffService
	Assignments *services.AssignmentService
	TokenTTL    time.Duration
}

func NewUserController(staff *services.StaffService, assignments *services.AssignmentService, tokenTTL time.Duration) *UserController {
	return &UserController{Staff: staff, Assignments: assignments, TokenTTL: tokenTTL}
}

// Login exchanges credentials for a token.
func (uc *UserController) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}

	user, err := uc.Staff.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		utils.RespondError(c, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}

	token, err := utils.GenerateToken(user.ID, user.BusinessID, user.Role, uc.TokenTTL)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	infoLog, _ := utils.Loggers()
	infoLog.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user logged in")
	utils.RespondJSON(c, http.StatusOK, "Login successful", gin.H{
		"token":      token,
		"expires_in": int(uc.TokenTTL.Seconds()),
		"user":       user,
	})
}

// Logout revokes the token and releases every table the waiter holds.
func (uc *UserController) Logout(c *gin.Context) {
	scope := middlewares.CurrentScope(c)
	released := 0
	if scope.IsWaiter() {
		n, err := uc.Assignments.UnassignWaiter(c.Request.Context(), scope, scope.UserID, services.ReasonLogout)
		if err != nil {
			utils.RespondServiceError(c, err)
			return
		}
		released = n
	}
	utils.BlacklistToken(c.GetString(middlewares.ContextToken))
	utils.RespondJSON(c, http.StatusOK, "Logout successful", gin.H{"released_tables": released})
}

// CreateStaff: POST /admin/waiters
func (uc *UserController) CreateStaff(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleWaiter
	}
	user, err := uc.Staff.CreateStaff(c.Request.Context(), middlewares.CurrentScope(c), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "User registered successfully", user)
}

// ArchiveWaiter: POST /admin/waiters/:user_id/archive
func (uc *UserController) ArchiveWaiter(c *gin.Context) {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	user, released, err := uc.Staff.ArchiveWaiter(c.Request.Context(), middlewares.CurrentScope(c), userID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Waiter archived", gin.H{
		"user":            user,
		"released_tables": released,
	})
}

// RegisterDevice: POST /waiter/devices
func (uc *UserController) RegisterDevice(c *gin.Context) {
	var req struct {
		Platform string `json:"platform" binding:"required"`
		Token    string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondBindError(c, err)
		return
	}
	device, err := uc.Staff.RegisterDevice(c.Request.Context(), middlewares.CurrentScope(c), req.Platform, req.Token)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Device registered", device)
}
