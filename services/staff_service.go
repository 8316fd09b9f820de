package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/models"
)

// ErrInvalidCredentials is returned by Authenticate for any login failure.
var ErrInvalidCredentials = errors.New("invalid credentials")

// StaffService covers the staff side that is not the call flow: credentials,
// archival, push devices and the minimal table setup done by admins.
type StaffService struct {
	db          *gorm.DB
	clock       Clock
	assignments *AssignmentService
	log         *logrus.Logger
}

func NewStaffService(db *gorm.DB, clock Clock, assignments *AssignmentService, log *logrus.Logger) *StaffService {
	return &StaffService{db: db, clock: clock, assignments: assignments, log: log}
}

// Authenticate checks email and password. Archived users cannot log in.
func (s *StaffService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.ArchivedAt != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// CreateStaff registers a waiter or admin in the scope's business.
func (s *StaffService) CreateStaff(ctx context.Context, scope Scope, name, email, password, role string) (*models.User, error) {
	if !scope.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can create staff")
	}
	if role != models.RoleWaiter && role != models.RoleAdmin {
		return nil, apperrors.Validation("role must be one of waiter, admin")
	}
	if len(password) < 8 {
		return nil, apperrors.Validation("password must have at least 8 characters")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return nil, apperrors.Conflict("email %s is already registered", email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{
		BusinessID: scope.BusinessID,
		Name:       strings.TrimSpace(name),
		Email:      email,
		Password:   string(hashed),
		Role:       role,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("staff created")
	return &user, nil
}

// ArchiveWaiter deactivates a waiter and releases their tables.
func (s *StaffService) ArchiveWaiter(ctx context.Context, scope Scope, userID uint) (*models.User, int, error) {
	if !scope.canManage() {
		return nil, 0, apperrors.Forbidden("only admins can archive staff")
	}
	db := s.db.WithContext(ctx)
	user, err := findWaiter(db, scope, userID)
	if err != nil {
		return nil, 0, err
	}
	if user.Role != models.RoleWaiter {
		return nil, 0, apperrors.Validation("user %d is not a waiter", userID)
	}
	if user.ArchivedAt != nil {
		return nil, 0, apperrors.Conflict("waiter %d is already archived", userID)
	}

	now := s.clock.Now()
	ok, err := ConditionalUpdate(db, &models.User{}, user.ID,
		map[string]interface{}{"archived_at": nil},
		map[string]interface{}{"archived_at": now})
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, apperrors.Conflict("waiter %d is already archived", userID)
	}
	user.ArchivedAt = &now

	released, err := s.assignments.UnassignWaiter(ctx, scope, user.ID, ReasonArchived)
	if err != nil {
		return user, released, err
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "released_tables": released}).Info("waiter archived")
	return user, released, nil
}

// RegisterDevice upserts a push destination for the scope's user.
func (s *StaffService) RegisterDevice(ctx context.Context, scope Scope, platform, token string) (*models.DeviceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.Validation("token is required")
	}
	switch platform {
	case models.PlatformFCM:
	case models.PlatformShoutrrr:
		if err := fanout.ValidateShoutrrrURL(token); err != nil {
			return nil, apperrors.Validation("%v", err)
		}
	default:
		return nil, apperrors.Validation("platform must be one of fcm, shoutrrr")
	}

	device := models.DeviceToken{
		UserID:     scope.UserID,
		Platform:   platform,
		Token:      token,
		LastSeenAt: s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"platform", "last_seen_at"}),
	}).Create(&device).Error
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return &device, nil
}

// DeviceTokens returns the push destinations of a user.
func (s *StaffService) DeviceTokens(ctx context.Context, userID uint) ([]models.DeviceToken, error) {
	return NewDeviceStore(s.db).DeviceTokens(ctx, userID)
}

// DeviceStore serves device lookups to the push fan-out. It needs only the
// database, so it exists before the services that publish events.
type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

func (d *DeviceStore) DeviceTokens(ctx context.Context, userID uint) ([]models.DeviceToken, error) {
	var tokens []models.DeviceToken
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("load device tokens of user %d: %w", userID, err)
	}
	return tokens, nil
}

// CreateTable adds a table to the admin's business.
func (s *StaffService) CreateTable(ctx context.Context, scope Scope, number int, notifications bool) (*models.Table, error) {
	if !scope.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can create tables")
	}
	if number < 1 {
		return nil, apperrors.Validation("number must be positive")
	}
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.Table{}).
		Where("business_id = ? AND number = ?", scope.BusinessID, number).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check table number: %w", err)
	}
	if count > 0 {
		return nil, apperrors.Conflict("table %d already exists", number)
	}

	table := models.Table{BusinessID: scope.BusinessID, Number: number, NotificationsEnabled: notifications}
	if err := db.Create(&table).Error; err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &table, nil
}

// ListTables returns the tables of the scope's business with their waiter.
func (s *StaffService) ListTables(ctx context.Context, scope Scope) ([]models.Table, error) {
	var tables []models.Table
	err := scope.tenant(s.db.WithContext(ctx), "business_id").
		Preload("ActiveWaiter").
		Order("number ASC").
		Find(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// SetNotifications toggles whether a table accepts calls.
func (s *StaffService) SetNotifications(ctx context.Context, scope Scope, tableID uint, enabled bool) (*models.Table, error) {
	if !scope.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can change tables")
	}
	db := s.db.WithContext(ctx)
	table, err := findTable(db, scope, tableID)
	if err != nil {
		return nil, err
	}
	if err := db.Model(table).Update("notifications_enabled", enabled).Error; err != nil {
		return nil, fmt.Errorf("update table %d: %w", tableID, err)
	}
	table.NotificationsEnabled = enabled
	return table, nil
}
