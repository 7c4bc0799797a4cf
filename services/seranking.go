package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/morvo-ai/morvo/backend/agents"
	"github.com/morvo-ai/morvo/backend/models"
	"github.com/morvo-ai/morvo/backend/tasks"
)

const (
	TaskAnalyzeDomain = "seranking.analyze_domain"

	domainHistoryLimit = 50
)

var (
	ErrInvalidDomain     = errors.New("invalid domain")
	ErrSERankingDisabled = errors.New("SE Ranking is not configured")

	domainNamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
)

type BacklinkAnalyzer interface {
	Available() bool
	AnalyzeBacklinks(ctx context.Context, domain string) (*agents.BacklinkReport, error)
}

// DomainStore persists tracked domains and their analyses.
type DomainStore interface {
	GetOrCreateDomain(ctx context.Context, userID, domain string) (*models.SERankingDomain, error)
	GetDomain(ctx context.Context, userID, domain string) (*models.SERankingDomain, error)
	UpdateDomainStatus(ctx context.Context, domainID, status, lastError string) error
	SaveBacklinkAnalysis(ctx context.Context, analysis *models.SERankingBacklinkAnalysis, relevance float64) error
	GetDomainHistory(ctx context.Context, domainID string, limit int) ([]models.SERankingBacklinkAnalysis, error)
}

// TaskQueue is the subset of tasks.Queue used by services.
type TaskQueue interface {
	Register(name string, h tasks.Handler)
	Enqueue(name string, payload interface{}, opts tasks.Options) (string, error)
}

// SERankingService queues backlink analyses and stores their results.
type SERankingService struct {
	analyzer   BacklinkAnalyzer
	store      DomainStore
	queue      TaskQueue
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

type analyzeDomainPayload struct {
	DomainID string `json:"domain_id"`
	Domain   string `json:"domain"`
	UserID   string `json:"user_id"`
}

type QueuedAnalysis struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DomainID string `json:"domain_id"`
	TaskID   string `json:"task_id"`
}

type DomainHistory struct {
	Domain  string                             `json:"domain"`
	Status  string                             `json:"status"`
	Tracked *models.SERankingDomain            `json:"tracked_domain"`
	History []models.SERankingBacklinkAnalysis `json:"history"`
}

// NewSERankingService registers the analysis task handler on queue.
func NewSERankingService(analyzer BacklinkAnalyzer, store DomainStore, queue TaskQueue, cfg TasksConfig) *SERankingService {
	s := &SERankingService{
		analyzer:   analyzer,
		store:      store,
		queue:      queue,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
	queue.Register(TaskAnalyzeDomain, s.handleAnalyzeDomain)
	return s
}

// ValidateDomain normalizes raw and checks it is a plausible host name.
func ValidateDomain(raw string) (string, error) {
	domain := agents.NormalizeDomain(raw)
	if len(domain) > 253 || !domainNamePattern.MatchString(domain) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return domain, nil
}

// QueueAnalysis tracks domain for userID and queues a backlink analysis.
func (s *SERankingService) QueueAnalysis(ctx context.Context, userID, rawDomain string) (*QueuedAnalysis, error) {
	domain, err := ValidateDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	if !s.analyzer.Available() {
		return nil, ErrSERankingDisabled
	}

	d, err := s.store.GetOrCreateDomain(ctx, userID, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to track domain: %w", err)
	}

	if err := s.store.UpdateDomainStatus(ctx, d.ID, models.AnalysisStatusPending, ""); err != nil {
		return nil, err
	}
	taskID, err := s.queue.Enqueue(TaskAnalyzeDomain, analyzeDomainPayload{
		DomainID: d.ID,
		Domain:   domain,
		UserID:   userID,
	}, tasks.Options{MaxRetries: s.maxRetries, RetryDelay: s.retryDelay})
	if err != nil {
		return nil, fmt.Errorf("failed to queue analysis: %w", err)
	}

	slog.Info("SE Ranking analysis queued", "domain", domain, "domain_id", d.ID, "task_id", taskID, "user_id", userID)
	return &QueuedAnalysis{
		Success:  true,
		Message:  fmt.Sprintf("SE Ranking analysis for %s has been queued.", domain),
		DomainID: d.ID,
		TaskID:   taskID,
	}, nil
}

// History returns the stored analyses of a tracked domain, newest first.
// It returns nil, nil when the domain is not tracked for userID.
func (s *SERankingService) History(ctx context.Context, userID, rawDomain string) (*DomainHistory, error) {
	domain, err := ValidateDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDomain(ctx, userID, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}
	if d == nil {
		return nil, nil
	}

	history, err := s.store.GetDomainHistory(ctx, d.ID, domainHistoryLimit)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []models.SERankingBacklinkAnalysis{}
	}
	return &DomainHistory{Domain: domain, Status: d.AnalysisStatus, Tracked: d, History: history}, nil
}

// handleAnalyzeDomain runs one attempt. A returned error makes the queue
// retry; the domain stays failed until an attempt succeeds.
func (s *SERankingService) handleAnalyzeDomain(ctx context.Context, task *tasks.Task) error {
	var p analyzeDomainPayload
	if err := task.Decode(&p); err != nil {
		return err
	}

	if err := s.store.UpdateDomainStatus(ctx, p.DomainID, models.AnalysisStatusProcessing, ""); err != nil {
		return err
	}

	report, err := s.analyzer.AnalyzeBacklinks(ctx, p.Domain)
	if err != nil {
		slog.Error("SE Ranking analysis task failed", "domain", p.Domain, "attempt", task.Attempt, "error", err)
		if uerr := s.store.UpdateDomainStatus(context.WithoutCancel(ctx), p.DomainID, models.AnalysisStatusFailed, err.Error()); uerr != nil {
			slog.Warn("Failed to mark domain failed", "domain_id", p.DomainID, "error", uerr)
		}
		return fmt.Errorf("SE Ranking API error: %w", err)
	}

	backlinks, refdomains := report.Totals()
	var details interface{} = map[string]interface{}{}
	anchors := []agents.AnchorStat{}
	if len(report.Summary) > 0 {
		details = report.Summary[0]
		anchors = report.Summary[0].TopAnchors
	}

	analysis := &models.SERankingBacklinkAnalysis{
		UserID:             p.UserID,
		DomainID:           p.DomainID,
		AnalysisDate:       s.now().UTC(),
		TotalBacklinks:     backlinks,
		ReferringDomains:   refdomains,
		BacklinkDetails:    models.JSON(details),
		AnchorTextAnalysis: models.JSON(anchors),
		SaudiMarketContext: models.JSON(report.SaudiMarket),
		Recommendations:    models.JSON(agents.BacklinkFinding(report).Recommendations),
		AnalysisNotes:      fmt.Sprintf("units_consumed=%d response_time_ms=%d", report.UnitsConsumed, report.ResponseTimeMS),
	}
	if err := s.store.SaveBacklinkAnalysis(ctx, analysis, report.SaudiMarket.LocalRelevanceScore); err != nil {
		return err
	}

	slog.Info("Successfully completed SE Ranking analysis", "domain", p.Domain, "total_backlinks", backlinks, "referring_domains", refdomains)
	return nil
}
