package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/morvo-ai/morvo/backend/models"
)

// ProfileRepository is the storage behind the profile endpoints.
type ProfileRepository interface {
	GetBusinessProfile(ctx context.Context, userID string) (*models.BusinessProfile, error)
	SaveBusinessProfile(ctx context.Context, profile *models.BusinessProfile) error
	GetCulturalContext(ctx context.Context, userID string) (*models.CulturalContext, error)
	SaveCulturalContext(ctx context.Context, cc *models.CulturalContext) error
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveUserProfile(ctx context.Context, profile *models.UserProfile) error
}

type ProfileEndpoints struct {
	repo ProfileRepository
}

func NewProfileEndpoints(repo ProfileRepository) *ProfileEndpoints {
	return &ProfileEndpoints{repo: repo}
}

// BusinessProfileUpdate is a partial update; nil fields are left unchanged.
type BusinessProfileUpdate struct {
	Name            *string  `json:"name"`
	Website         *string  `json:"website"`
	Industry        *string  `json:"industry"`
	CompanySize     *string  `json:"company_size"`
	Description     *string  `json:"description"`
	Locations       []string `json:"locations"`
	TargetAudience  []string `json:"target_audience"`
	MarketingGoals  []string `json:"marketing_goals"`
	Competitors     []string `json:"competitors"`
	CurrentChannels []string `json:"current_channels"`
}

// PreferencesUpdate is a partial update of the user's personal profile.
type PreferencesUpdate struct {
	JobTitle              *string  `json:"job_title"`
	IndustryPrimary       *string  `json:"industry_primary"`
	BusinessModel         *string  `json:"business_model"`
	TargetMarket          *string  `json:"target_market"`
	Country               *string  `json:"country"`
	City                  *string  `json:"city"`
	Timezone              *string  `json:"timezone"`
	PreferredLanguage     *string  `json:"preferred_language"`
	CommunicationStyle    *string  `json:"communication_style"`
	MarketingExperience   *string  `json:"marketing_experience_level"`
	MarketingBudgetRange  *string  `json:"marketing_budget_range"`
	PrimaryMarketingGoals []string `json:"primary_marketing_goals"`
	MarketingChannels     []string `json:"current_marketing_channels"`
}

var (
	validBusinessModels = map[string]bool{"b2b": true, "b2c": true, "b2b2c": true, "marketplace": true}
	validLanguages      = map[string]bool{"en": true, "ar": true, "mixed": true}
)

type CulturalContextUpdate struct {
	CulturalBackground      *string `json:"cultural_background"`
	NativeLanguage          *string `json:"native_language"`
	PrimaryRegion           *string `json:"primary_region"`
	ReligiousConsiderations *bool   `json:"religious_considerations"`
	HalalMarketingRequired  *bool   `json:"halal_marketing_required"`
	RamadanAdjustments      *bool   `json:"ramadan_marketing_adjustments"`
	Vision2030Alignment     *bool   `json:"vision_2030_alignment"`
	CommunicationDirectness *string `json:"communication_directness"`
	TextDirectionPreference *string `json:"text_direction_preference"`
	FormalAddressPreference *bool   `json:"formal_address_preference"`
	CustomCulturalNotes     *string `json:"custom_cultural_notes"`
}

func (e *ProfileEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/profile", func(r chi.Router) {
		r.Get("/", e.GetProfileHandler)
		r.Put("/", e.UpdateProfileHandler)
		r.Get("/cultural-context", e.GetCulturalContextHandler)
		r.Put("/cultural-context", e.UpdateCulturalContextHandler)
		r.Get("/preferences", e.GetPreferencesHandler)
		r.Put("/preferences", e.UpdatePreferencesHandler)
	})
}

func (e *ProfileEndpoints) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	profile, err := e.repo.GetBusinessProfile(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get business profile", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "Business profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (e *ProfileEndpoints) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var upd BusinessProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := e.repo.GetBusinessProfile(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get business profile", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	if profile == nil {
		profile = &models.BusinessProfile{UserID: user.ID}
	}
	upd.apply(profile)
	if strings.TrimSpace(profile.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	if err := e.repo.SaveBusinessProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (u BusinessProfileUpdate) apply(p *models.BusinessProfile) {
	setString(&p.Name, u.Name)
	setString(&p.Website, u.Website)
	setString(&p.Industry, u.Industry)
	setString(&p.CompanySize, u.CompanySize)
	setString(&p.Description, u.Description)
	if u.Locations != nil {
		p.Locations = models.JSON(u.Locations)
	}
	if u.TargetAudience != nil {
		p.TargetAudience = models.JSON(u.TargetAudience)
	}
	if u.MarketingGoals != nil {
		p.MarketingGoals = models.JSON(u.MarketingGoals)
	}
	if u.Competitors != nil {
		p.Competitors = models.JSON(u.Competitors)
	}
	if u.CurrentChannels != nil {
		p.CurrentChannels = models.JSON(u.CurrentChannels)
	}
}

// defaultCulturalContext mirrors the column defaults for users that never
// saved one.
func defaultCulturalContext(userID string) *models.CulturalContext {
	return &models.CulturalContext{
		UserID:                  userID,
		NativeLanguage:          "Arabic",
		ReligiousConsiderations: true,
		HalalMarketingRequired:  true,
		RamadanAdjustments:      true,
		Vision2030Alignment:     true,
		CommunicationDirectness: "indirect",
		TextDirectionPreference: "rtl",
		FormalAddressPreference: true,
	}
}

func (e *ProfileEndpoints) GetCulturalContextHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	cc, err := e.repo.GetCulturalContext(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get cultural context", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	if cc == nil {
		cc = defaultCulturalContext(user.ID)
	}
	writeJSON(w, http.StatusOK, cc)
}

func (e *ProfileEndpoints) UpdateCulturalContextHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var upd CulturalContextUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if v := upd.TextDirectionPreference; v != nil && *v != "rtl" && *v != "ltr" && *v != "mixed" {
		writeError(w, http.StatusUnprocessableEntity, "text_direction_preference must be one of rtl, ltr, mixed")
		return
	}
	if v := upd.CommunicationDirectness; v != nil && *v != "direct" && *v != "indirect" {
		writeError(w, http.StatusUnprocessableEntity, "communication_directness must be direct or indirect")
		return
	}

	cc, err := e.repo.GetCulturalContext(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get cultural context", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	if cc == nil {
		cc = defaultCulturalContext(user.ID)
	}

	setString(&cc.CulturalBackground, upd.CulturalBackground)
	setString(&cc.NativeLanguage, upd.NativeLanguage)
	setString(&cc.PrimaryRegion, upd.PrimaryRegion)
	setString(&cc.CommunicationDirectness, upd.CommunicationDirectness)
	setString(&cc.TextDirectionPreference, upd.TextDirectionPreference)
	setString(&cc.CustomCulturalNotes, upd.CustomCulturalNotes)
	setBool(&cc.ReligiousConsiderations, upd.ReligiousConsiderations)
	setBool(&cc.HalalMarketingRequired, upd.HalalMarketingRequired)
	setBool(&cc.RamadanAdjustments, upd.RamadanAdjustments)
	setBool(&cc.Vision2030Alignment, upd.Vision2030Alignment)
	setBool(&cc.FormalAddressPreference, upd.FormalAddressPreference)

	if err := e.repo.SaveCulturalContext(r.Context(), cc); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update cultural context")
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

func defaultUserProfile(userID string) *models.UserProfile {
	return &models.UserProfile{
		UserID:              userID,
		Country:             "Saudi Arabia",
		Timezone:            "Asia/Riyadh",
		PreferredLanguage:   "en",
		CommunicationStyle:  "professional",
		MarketingExperience: "intermediate",
	}
}

func (e *ProfileEndpoints) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	profile, err := e.repo.GetUserProfile(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get user profile", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	if profile == nil {
		profile = defaultUserProfile(user.ID)
	}
	writeJSON(w, http.StatusOK, profile)
}

func (e *ProfileEndpoints) UpdatePreferencesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var upd PreferencesUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if v := upd.PreferredLanguage; v != nil && !validLanguages[*v] {
		writeError(w, http.StatusUnprocessableEntity, "preferred_language must be one of en, ar, mixed")
		return
	}
	if v := upd.BusinessModel; v != nil && *v != "" && !validBusinessModels[*v] {
		writeError(w, http.StatusUnprocessableEntity, "business_model must be one of b2b, b2c, b2b2c, marketplace")
		return
	}

	profile, err := e.repo.GetUserProfile(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get user profile", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, unexpectedErrorDetail)
		return
	}
	if profile == nil {
		profile = defaultUserProfile(user.ID)
	}

	setString(&profile.JobTitle, upd.JobTitle)
	setString(&profile.IndustryPrimary, upd.IndustryPrimary)
	setString(&profile.BusinessModel, upd.BusinessModel)
	setString(&profile.TargetMarket, upd.TargetMarket)
	setString(&profile.Country, upd.Country)
	setString(&profile.City, upd.City)
	setString(&profile.Timezone, upd.Timezone)
	setString(&profile.PreferredLanguage, upd.PreferredLanguage)
	setString(&profile.CommunicationStyle, upd.CommunicationStyle)
	setString(&profile.MarketingExperience, upd.MarketingExperience)
	setString(&profile.MarketingBudgetRange, upd.MarketingBudgetRange)
	if upd.PrimaryMarketingGoals != nil {
		profile.PrimaryMarketingGoals = models.JSON(upd.PrimaryMarketingGoals)
	}
	if upd.MarketingChannels != nil {
		profile.MarketingChannels = models.JSON(upd.MarketingChannels)
	}

	if err := e.repo.SaveUserProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
