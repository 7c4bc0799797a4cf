package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID                    string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Email                 string         `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password              string         `gorm:"column:hashed_password;size:255;not null" json:"-"` // bcrypt hash
	FullName              string         `gorm:"size:255" json:"full_name,omitempty"`
	PreferredName         string         `gorm:"size:100" json:"preferred_name,omitempty"`
	IsActive              bool           `gorm:"default:true" json:"is_active"`
	IsSuperuser           bool           `gorm:"default:false" json:"is_superuser"`
	OnboardingCompleted   bool           `gorm:"default:false" json:"onboarding_completed"`
	OnboardingStage       string         `gorm:"size:50" json:"onboarding_stage,omitempty"` // personal, business, analysis, complete
	OnboardingCompletedAt *time.Time     `json:"onboarding_completed_at,omitempty"`
	LastLoginAt           *time.Time     `json:"last_login_at,omitempty"`
	LoginCount            int            `gorm:"default:0" json:"login_count"`
	SubscriptionTier      string         `gorm:"size:50;default:'free'" json:"subscription_tier"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Profile          *UserProfile      `gorm:"foreignKey:UserID" json:"profile,omitempty"`
	CulturalContext  *CulturalContext  `gorm:"foreignKey:UserID" json:"cultural_context,omitempty"`
	BusinessProfiles []BusinessProfile `gorm:"foreignKey:UserID" json:"business_profiles,omitempty"`
	Conversations    []Conversation    `gorm:"foreignKey:UserID" json:"conversations,omitempty"`
	RefreshTokens    []RefreshToken    `gorm:"foreignKey:UserID" json:"-"`
}

const (
	ScopeUser  = "user"
	ScopeAdmin = "admin"
)

// Scopes returns the OAuth2 scopes granted to the user's access tokens.
func (u *User) Scopes() []string {
	if u.IsSuperuser {
		return []string{ScopeUser, ScopeAdmin}
	}
	return []string{ScopeUser}
}

// DisplayName prefers the preferred name, then the full name, then the email.
func (u *User) DisplayName() string {
	switch {
	case u.PreferredName != "":
		return u.PreferredName
	case u.FullName != "":
		return u.FullName
	default:
		return u.Email
	}
}

func (u *User) IsOnboardingComplete() bool {
	return u.OnboardingCompleted && u.OnboardingStage == OnboardingStageComplete
}

const (
	OnboardingStagePersonal = "personal"
	OnboardingStageBusiness = "business"
	OnboardingStageAnalysis = "analysis"
	OnboardingStageComplete = "complete"
)

type RefreshToken struct {
	ID        string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string         `gorm:"uniqueIndex;not null" json:"-"` // sha256 of the raw token
	ExpiresAt time.Time      `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
