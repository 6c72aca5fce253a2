package service

import (
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/ratelimit"
)

type SessionConfig struct {
	Authenticated bool                   `json:"authenticated"`
	ActorType     model.ActorType        `json:"actor_type"`
	Tier          model.SubscriptionTier `json:"tier"`
	RateLimit     RateLimitView          `json:"rate_limit"`
	Features      map[string]bool        `json:"features"`
}

type RateLimitView struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"window_seconds"`
}

// tierFeatures lists what each tier unlocks in the client.
var tierFeatures = map[model.SubscriptionTier]map[string]bool{
	model.TierAnonymous:  {"projects": false, "agents": false, "optimization": false, "audit_log": false},
	model.TierFree:       {"projects": true, "agents": true, "optimization": false, "audit_log": false},
	model.TierPro:        {"projects": true, "agents": true, "optimization": true, "audit_log": false},
	model.TierEnterprise: {"projects": true, "agents": true, "optimization": true, "audit_log": true},
}

type SessionService struct {
	limiter *ratelimit.Limiter
}

func NewSessionService(limiter *ratelimit.Limiter) *SessionService {
	return &SessionService{limiter: limiter}
}

// Config describes what the caller may do. A nil user is anonymous.
func (s *SessionService) Config(user *model.UserPrincipal) *SessionConfig {
	tier := model.TierAnonymous
	actor := model.ActorAnonymous
	if user != nil {
		tier = user.SubscriptionTier.Normalize()
		actor = model.ActorUser
	}
	profile := s.limiter.Profile(tier)

	features := make(map[string]bool, len(tierFeatures[tier]))
	for k, v := range tierFeatures[tier] {
		features[k] = v
	}
	return &SessionConfig{
		Authenticated: user != nil,
		ActorType:     actor,
		Tier:          tier,
		RateLimit: RateLimitView{
			Requests:      profile.Requests,
			WindowSeconds: int(profile.Window.Seconds()),
		},
		Features: features,
	}
}
