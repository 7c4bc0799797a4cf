package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morvo-ai/morvo/backend/models"
	"gorm.io/gorm"
)

// GetOrCreateDomain returns the tracked domain for userID, creating it pending.
func (r *GORMRepository) GetOrCreateDomain(ctx context.Context, userID, domain string) (*models.SERankingDomain, error) {
	d, err := r.GetDomain(ctx, userID, domain)
	if err != nil || d != nil {
		return d, err
	}

	d = &models.SERankingDomain{
		UserID:         userID,
		DomainName:     domain,
		AnalysisStatus: models.AnalysisStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		if isUniqueViolation(err) {
			// lost a race with a concurrent request for the same domain
			return r.GetDomain(ctx, userID, domain)
		}
		slog.Error("Failed to create SE Ranking domain", "error", err, "domain", domain)
		return nil, fmt.Errorf("failed to create domain: %w", err)
	}
	slog.Info("SE Ranking domain created", "domain_id", d.ID, "domain", domain, "user_id", userID)
	return d, nil
}

func (r *GORMRepository) GetDomain(ctx context.Context, userID, domain string) (*models.SERankingDomain, error) {
	var d models.SERankingDomain
	if err := r.db.WithContext(ctx).Where("user_id = ? AND domain_name = ?", userID, domain).First(&d).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Failed to get SE Ranking domain", "error", err, "domain", domain)
		return nil, err
	}
	return &d, nil
}

func (r *GORMRepository) UpdateDomainStatus(ctx context.Context, domainID, status, lastError string) error {
	err := r.db.WithContext(ctx).
		Model(&models.SERankingDomain{}).
		Where("id = ?", domainID).
		Updates(map[string]interface{}{
			"analysis_status": status,
			"last_error":      lastError,
		}).Error
	if err != nil {
		slog.Error("Failed to update SE Ranking domain status", "error", err, "domain_id", domainID, "status", status)
		return fmt.Errorf("failed to update domain status: %w", err)
	}
	return nil
}

// SaveBacklinkAnalysis stores a snapshot and marks its domain completed.
func (r *GORMRepository) SaveBacklinkAnalysis(ctx context.Context, analysis *models.SERankingBacklinkAnalysis, relevance float64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(analysis).Error; err != nil {
			return fmt.Errorf("failed to save backlink analysis: %w", err)
		}
		err := tx.Model(&models.SERankingDomain{}).
			Where("id = ?", analysis.DomainID).
			Updates(map[string]interface{}{
				"analysis_status":       models.AnalysisStatusCompleted,
				"last_error":            "",
				"last_analysis_date":    analysis.AnalysisDate,
				"total_backlinks":       analysis.TotalBacklinks,
				"referring_domains":     analysis.ReferringDomains,
				"local_relevance_score": relevance,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update domain metrics: %w", err)
		}
		slog.Info("Backlink analysis saved", "domain_id", analysis.DomainID, "total_backlinks", analysis.TotalBacklinks)
		return nil
	})
}

// GetDomainHistory returns the latest analyses of a domain, newest first.
func (r *GORMRepository) GetDomainHistory(ctx context.Context, domainID string, limit int) ([]models.SERankingBacklinkAnalysis, error) {
	var history []models.SERankingBacklinkAnalysis
	err := r.db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("analysis_date DESC").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		slog.Error("Failed to get domain history", "error", err, "domain_id", domainID)
		return nil, fmt.Errorf("failed to get domain history: %w", err)
	}
	return history, nil
}
