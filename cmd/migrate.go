package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/config"
	"github.com/yeremiapane/waiter-call/database"
	"github.com/yeremiapane/waiter-call/models"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

func migrateCommand(load func() (*config.Config, error)) *cobra.Command {
	var (
		adminEmail    string
		adminPassword string
		adminName     string
		businessID    uint
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and optionally create the first admin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			infoLog, _ := utils.Loggers()

			db, err := config.InitDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			infoLog.Info("schema migrated")

			if adminEmail == "" {
				return nil
			}
			staff := services.NewStaffService(db, services.SystemClock(), nil, infoLog)
			bootstrap := services.Scope{BusinessID: businessID, Role: models.RoleAdmin}

			user, err := staff.CreateStaff(context.Background(), bootstrap, adminName, adminEmail, adminPassword, models.RoleAdmin)
			if apperrors.Is(err, apperrors.KindConflict) {
				infoLog.WithField("email", adminEmail).Info("admin already exists")
				return nil
			}
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			infoLog.WithFields(logrus.Fields{"user_id": user.ID, "business_id": user.BusinessID}).Info("admin created")
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "create an admin with this email")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "password of the created admin")
	cmd.Flags().StringVar(&adminName, "admin-name", "Admin", "name of the created admin")
	cmd.Flags().UintVar(&businessID, "business-id", 1, "business of the created admin")
	return cmd
}
