// Command seedadmin creates or updates an admin panel account.
//
//	seedadmin -email laura@example.com -name Laura -password '...'
//
// The password may also come from SEED_ADMIN_PASSWORD.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

func main() {
	email := flag.String("email", "", "admin e-mail")
	name := flag.String("name", "", "display name")
	role := flag.String("role", models.AdminRoleAdmin, "admin or super_admin")
	password := flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "plain-text password")
	inactive := flag.Bool("inactive", false, "create the account disabled")
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if strings.TrimSpace(*email) == "" || strings.TrimSpace(*name) == "" {
		logger.Fatal("email and name are required")
	}
	if *role != models.AdminRoleAdmin && *role != models.AdminRoleSuperAdmin {
		logger.Fatal("unknown role", zap.String("role", *role))
	}

	hash, err := service.HashPassword(*password)
	if err != nil {
		logger.Fatal("Invalid password", zap.Error(err))
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	admin := &models.AdminUser{
		Email:        strings.TrimSpace(*email),
		Name:         strings.TrimSpace(*name),
		Role:         *role,
		PasswordHash: hash,
		IsActive:     !*inactive,
	}
	if err := db.UpsertAdmin(ctx, admin); err != nil {
		logger.Fatal("Failed to save admin", zap.Error(err))
	}

	logger.Info("Admin saved",
		zap.Int64("admin_id", admin.ID),
		zap.String("email", strings.ToLower(admin.Email)),
		zap.String("role", admin.Role),
		zap.Bool("active", admin.IsActive))
}
