package backend

import "time"

// User is the denormalized account snapshot held by the session store
// and persisted for fast restart. Token is the bearer access token; it
// is re-primed from memory on restore, never from durable storage.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Tier               string    `json:"tier"` // "free", "premium", "pro", "enterprise"
	Token              string    `json:"token"`
	Usage              UserUsage `json:"usage"`
	CreatedAt          string    `json:"created_at"`
	UpdatedAt          string    `json:"updated_at,omitempty"`
	SubscriptionStatus string    `json:"subscription_status,omitempty"`
}

// UserUsage tracks request counters for quota display.
type UserUsage struct {
	Daily     int    `json:"daily"`
	Total     int    `json:"total"`
	LastReset string `json:"last_reset"`
}

// backendUser is the wire shape the API returns; it is denormalized
// into User together with the issued token.
type backendUser struct {
	ID                 string  `json:"id"`
	Email              string  `json:"email"`
	Name               string  `json:"name"`
	Tier               string  `json:"tier"`
	SubscriptionStatus *string `json:"subscription_status"`
	UsageDaily         *int    `json:"usage_daily"`
	UsageTotal         *int    `json:"usage_total"`
	CreatedAt          *string `json:"created_at"`
	UpdatedAt          *string `json:"updated_at"`
}

type authResponse struct {
	Success      bool         `json:"success"`
	User         *backendUser `json:"user"`
	Token        *string      `json:"token"`
	RefreshToken *string      `json:"refresh_token"`
	Message      *string      `json:"message"`
}

func (r *authResponse) toUser(token string) *User {
	bu := r.User
	u := &User{
		ID:    bu.ID,
		Email: bu.Email,
		Name:  bu.Name,
		Tier:  bu.Tier,
		Token: token,
		Usage: UserUsage{
			LastReset: time.Now().UTC().Format("2006-01-02"),
		},
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if bu.UsageDaily != nil {
		u.Usage.Daily = *bu.UsageDaily
	}
	if bu.UsageTotal != nil {
		u.Usage.Total = *bu.UsageTotal
	}
	if bu.CreatedAt != nil {
		u.CreatedAt = *bu.CreatedAt
	}
	if bu.UpdatedAt != nil {
		u.UpdatedAt = *bu.UpdatedAt
	}
	if bu.SubscriptionStatus != nil {
		u.SubscriptionStatus = *bu.SubscriptionStatus
	}
	return u
}

// tierModels is the fallback model catalog when the backend listing is
// unreachable. Each tier includes everything the tiers below it offer.
var tierModels = map[string][]string{
	"free": {"GPT-3.5-turbo", "Gemini Flash"},
	"premium": {
		"GPT-3.5-turbo", "Gemini Flash", "GPT-4o-mini", "Claude 3 Haiku",
		"Gemini Pro", "Jamba Mini", "Mistral Small",
	},
	"pro": {
		"GPT-3.5-turbo", "Gemini Flash", "GPT-4o-mini", "Claude 3 Haiku",
		"Gemini Pro", "Jamba Mini", "Mistral Small", "GPT-4o",
		"Claude 3.5 Sonnet", "Jamba Large", "Mistral Medium",
	},
	"enterprise": {
		"GPT-3.5-turbo", "Gemini Flash", "GPT-4o-mini", "Claude 3 Haiku",
		"Gemini Pro", "Jamba Mini", "Mistral Small", "GPT-4o",
		"Claude 3.5 Sonnet", "Jamba Large", "Mistral Medium",
		"GPT-4o 32k", "Claude 3 Opus", "Mistral Large",
	},
}

// FallbackModels returns the static catalog for a tier.
func FallbackModels(tier string) []string {
	if models, ok := tierModels[tier]; ok {
		out := make([]string, len(models))
		copy(out, models)
		return out
	}
	return []string{"GPT-3.5-turbo"}
}

// DailyLimit returns the request quota per day for a tier; -1 means
// unlimited.
func DailyLimit(tier string) int {
	switch tier {
	case "premium":
		return 100
	case "pro":
		return 500
	case "enterprise":
		return -1
	default:
		return 10
	}
}
