package model

import "time"

// Tenant is the organization (company) a principal acts within.
type Tenant struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Slug               string `json:"slug"`
	Plan               string `json:"plan"`
	SubscriptionStatus string `json:"subscription_status"`
}

// Company carries the full organization row, including its business-hours
// settings.
type Company struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	Plan               string    `json:"plan"`
	SubscriptionStatus string    `json:"subscription_status"`
	Timezone           string    `json:"timezone"`
	BusinessHoursStart int       `json:"business_hours_start"`
	BusinessHoursEnd   int       `json:"business_hours_end"`
	CreatedAt          time.Time `json:"created_at"`
}

func (c *Company) Tenant() *Tenant {
	return &Tenant{
		ID:                 c.ID,
		Name:               c.Name,
		Slug:               c.Slug,
		Plan:               c.Plan,
		SubscriptionStatus: c.SubscriptionStatus,
	}
}

// Membership links a user to a company with an organizational role.
type Membership struct {
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// User is the stored profile behind a UserPrincipal.
type User struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	Role             string           `json:"role"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Preferences holds self-service user settings.
type Preferences struct {
	UserID        string          `json:"user_id"`
	Timezone      string          `json:"timezone"`
	Theme         string          `json:"theme"`
	Notifications map[string]bool `json:"notifications"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
