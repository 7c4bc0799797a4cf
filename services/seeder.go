package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morvo-ai/morvo/backend/models"
)

// SeedStore is the storage used by the seeder.
type SeedStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	GetCulturalContext(ctx context.Context, userID string) (*models.CulturalContext, error)
	SaveCulturalContext(ctx context.Context, cc *models.CulturalContext) error
}

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo SeedStore
	cfg  SeedConfig
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo SeedStore, cfg SeedConfig) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, cfg: cfg}
}

// SeedDatabase creates the admin account from ADMIN_EMAIL and
// ADMIN_PASSWORD. It is idempotent: an existing account is promoted, never
// re-created, and its password is left untouched.
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	email := strings.ToLower(strings.TrimSpace(s.cfg.AdminEmail))
	if email == "" || s.cfg.AdminPassword == "" {
		slog.Info("Admin credentials not configured, skipping seeding")
		return nil
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	if user == nil {
		if err := validateRegistration(RegisterInput{Email: email, Password: s.cfg.AdminPassword}); err != nil {
			return fmt.Errorf("invalid admin credentials: %w", err)
		}
		hashed, err := HashPassword(s.cfg.AdminPassword)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user = &models.User{
			Email:                 email,
			Password:              hashed,
			FullName:              "Morvo Admin",
			IsActive:              true,
			IsSuperuser:           true,
			OnboardingCompleted:   true,
			OnboardingStage:       models.OnboardingStageComplete,
			OnboardingCompletedAt: &now,
		}
		if err := s.repo.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		slog.Info("Created admin user", "email", email)
	} else if !user.IsSuperuser || !user.IsActive {
		user.IsSuperuser = true
		user.IsActive = true
		if err := s.repo.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to promote admin user: %w", err)
		}
		slog.Info("Promoted existing user to admin", "email", email)
	} else {
		slog.Info("Admin user already exists, skipping", "email", email)
	}

	cc, err := s.repo.GetCulturalContext(ctx, user.ID)
	if err != nil {
		return err
	}
	if cc == nil {
		if err := s.repo.SaveCulturalContext(ctx, defaultCulturalContext(user.ID)); err != nil {
			return err
		}
	}

	slog.Info("Database seeding completed successfully")
	return nil
}
