package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

// SERankingDomain is a domain tracked for backlink analysis.
type SERankingDomain struct {
	ID                  string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID              string         `gorm:"type:uuid;not null;uniqueIndex:idx_seranking_domains_user_domain" json:"user_id"`
	DomainName          string         `gorm:"size:255;not null;uniqueIndex:idx_seranking_domains_user_domain" json:"domain_name"`
	AnalysisStatus      string         `gorm:"size:20;not null;default:'pending';check:analysis_status IN ('pending', 'processing', 'completed', 'failed')" json:"analysis_status"`
	LastAnalysisDate    *time.Time     `json:"last_analysis_date,omitempty"`
	LastError           string         `gorm:"type:text" json:"last_error,omitempty"`
	TotalBacklinks      int            `gorm:"default:0" json:"total_backlinks"`
	ReferringDomains    int            `gorm:"default:0" json:"referring_domains"`
	LocalRelevanceScore float64        `gorm:"default:0" json:"local_relevance_score"`
	CompetitorData      datatypes.JSON `json:"competitor_data,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

type SERankingBacklinkAnalysis struct {
	ID                 string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID             string         `gorm:"type:uuid;not null;index" json:"user_id"`
	DomainID           string         `gorm:"type:uuid;not null;index" json:"domain_id"`
	AnalysisDate       time.Time      `gorm:"not null" json:"analysis_date"`
	TotalBacklinks     int            `gorm:"default:0" json:"total_backlinks"`
	ReferringDomains   int            `gorm:"default:0" json:"referring_domains"`
	BacklinkDetails    datatypes.JSON `json:"backlink_details,omitempty"`
	AnchorTextAnalysis datatypes.JSON `json:"anchor_text_analysis,omitempty"`
	SaudiMarketContext datatypes.JSON `json:"saudi_market_context,omitempty"`
	Recommendations    datatypes.JSON `json:"recommendations,omitempty"`
	AnalysisNotes      string         `gorm:"type:text" json:"analysis_notes,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	Domain SERankingDomain `gorm:"foreignKey:DomainID;constraint:OnDelete:CASCADE" json:"-"`
}
