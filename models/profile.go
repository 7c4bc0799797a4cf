package models

import (
	"time"

	"gorm.io/datatypes"
)

type UserProfile struct {
	ID                     string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID                 string         `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	JobTitle               string         `gorm:"size:200" json:"job_title,omitempty"`
	IndustryPrimary        string         `gorm:"size:100" json:"industry_primary,omitempty"`
	BusinessModel          string         `gorm:"size:50" json:"business_model,omitempty"` // b2b, b2c, b2b2c, marketplace
	TargetMarket           string         `gorm:"size:100" json:"target_market,omitempty"`
	Country                string         `gorm:"size:100;default:'Saudi Arabia'" json:"country"`
	City                   string         `gorm:"size:100" json:"city,omitempty"`
	Timezone               string         `gorm:"size:50;default:'Asia/Riyadh'" json:"timezone"`
	PreferredLanguage      string         `gorm:"size:10;default:'en'" json:"preferred_language"` // en, ar, mixed
	CommunicationStyle     string         `gorm:"size:50;default:'professional'" json:"communication_style"`
	MarketingExperience    string         `gorm:"size:50;default:'intermediate'" json:"marketing_experience_level"`
	PrimaryMarketingGoals  datatypes.JSON `json:"primary_marketing_goals,omitempty"`
	MarketingBudgetRange   string         `gorm:"size:50" json:"marketing_budget_range,omitempty"`
	MarketingChannels      datatypes.JSON `gorm:"column:current_marketing_channels" json:"current_marketing_channels,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// CulturalContext holds the Saudi cultural preferences applied to a user's replies.
type CulturalContext struct {
	ID                      string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID                  string    `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	CulturalBackground      string    `gorm:"size:100" json:"cultural_background,omitempty"` // Saudi, Gulf, Arab, International
	NativeLanguage          string    `gorm:"size:50;default:'Arabic'" json:"native_language"`
	PrimaryRegion           string    `gorm:"size:50" json:"primary_region,omitempty"`
	ReligiousConsiderations bool      `gorm:"default:true" json:"religious_considerations"`
	HalalMarketingRequired  bool      `gorm:"default:true" json:"halal_marketing_required"`
	RamadanAdjustments      bool      `gorm:"column:ramadan_marketing_adjustments;default:true" json:"ramadan_marketing_adjustments"`
	Vision2030Alignment     bool      `gorm:"default:true" json:"vision_2030_alignment"`
	CommunicationDirectness string    `gorm:"size:50;default:'indirect'" json:"communication_directness"`
	TextDirectionPreference string    `gorm:"size:10;default:'rtl'" json:"text_direction_preference"` // rtl, ltr, mixed
	FormalAddressPreference bool      `gorm:"default:true" json:"formal_address_preference"`
	CustomCulturalNotes     string    `gorm:"type:text" json:"custom_cultural_notes,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// BusinessProfile is the business collected during onboarding, enriched in
// the background with website and backlink analysis.
type BusinessProfile struct {
	ID                  string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID              string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Name                string         `gorm:"size:255;not null" json:"name"`
	Website             string         `gorm:"size:500" json:"website,omitempty"`
	Industry            string         `gorm:"size:100" json:"industry,omitempty"`
	CompanySize         string         `gorm:"size:50" json:"company_size,omitempty"`
	Description         string         `gorm:"type:text" json:"description,omitempty"`
	Locations           datatypes.JSON `json:"locations,omitempty"`
	TargetAudience      datatypes.JSON `json:"target_audience,omitempty"`
	MarketingGoals      datatypes.JSON `json:"marketing_goals,omitempty"`
	Competitors         datatypes.JSON `json:"competitors,omitempty"`
	CurrentChannels     datatypes.JSON `json:"current_channels,omitempty"`
	PainPoints          datatypes.JSON `json:"pain_points,omitempty"`
	Opportunities       datatypes.JSON `json:"opportunities,omitempty"`
	EnrichmentData      datatypes.JSON `json:"enrichment_data,omitempty"`
	EnrichedAt          *time.Time     `json:"enriched_at,omitempty"`
	OnboardingCompleted bool           `gorm:"default:false" json:"onboarding_completed"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
