package model

// ActorType identifies who performed an action in audit records.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorAgent     ActorType = "agent"
	ActorAnonymous ActorType = "anonymous"
)

// SubscriptionTier selects the rate limit profile of a caller.
type SubscriptionTier string

const (
	TierAnonymous    SubscriptionTier = "anonymous"
	TierFree         SubscriptionTier = "free"
	TierPro          SubscriptionTier = "pro"
	TierProfessional SubscriptionTier = "professional"
	TierEnterprise   SubscriptionTier = "enterprise"
)

// Normalize folds aliases ("professional" -> "pro") and defaults unknown
// tiers to free.
func (t SubscriptionTier) Normalize() SubscriptionTier {
	switch t {
	case TierPro, TierProfessional:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	case TierAnonymous:
		return TierAnonymous
	default:
		return TierFree
	}
}

// Principal is the authenticated identity attached to a request. The
// unexported marker keeps the set of variants closed to this package.
type Principal interface {
	PrincipalID() string
	ActorType() ActorType
	isPrincipal()
}

// UserPrincipal is an interactive user authenticated with a bearer token.
type UserPrincipal struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	Role             string           `json:"role"`
}

func (u *UserPrincipal) PrincipalID() string  { return u.ID }
func (u *UserPrincipal) ActorType() ActorType { return ActorUser }
func (u *UserPrincipal) isPrincipal()         {}

// AgentPrincipal is an autonomous agent authenticated with a token+key pair.
type AgentPrincipal struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
}

func (a *AgentPrincipal) PrincipalID() string  { return a.ID }
func (a *AgentPrincipal) ActorType() ActorType { return ActorAgent }
func (a *AgentPrincipal) isPrincipal()         {}
