package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Action classifies requests for per-action limits.
type Action string

const (
	ActionChatMessage    Action = "chat_message"
	ActionFileUpload     Action = "file_upload"
	ActionCreditPurchase Action = "credit_purchase"
)

// Policy is a fixed-window limit for one action class.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicies is the static per-action table.
var DefaultPolicies = map[Action]Policy{
	ActionChatMessage:    {MaxRequests: 20, Window: time.Minute},
	ActionFileUpload:     {MaxRequests: 10, Window: time.Minute},
	ActionCreditPurchase: {MaxRequests: 5, Window: time.Minute},
}

// Result reports a limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	Error     string
}

// Store holds window state keyed by user+action. Hit applies the
// fixed-window algorithm: reset the window when it has elapsed, deny without
// incrementing once the limit is reached.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, reset time.Time, err error)
}

// Limiter gates credit-consuming actions. It is an abuse deterrent, not a
// billing-critical gate: if the store is unreachable the request is allowed
// and the failure logged.
type Limiter struct {
	store    Store
	policies map[Action]Policy
	log      zerolog.Logger
}

func NewLimiter(store Store, policies map[Action]Policy, log zerolog.Logger) *Limiter {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &Limiter{
		store:    store,
		policies: policies,
		log:      log,
	}
}

// Check applies the policy for (userID, action).
func (l *Limiter) Check(ctx context.Context, userID string, action Action) Result {
	policy, ok := l.policies[action]
	if !ok {
		// Unknown actions are a programming error on the caller's side;
		// deny rather than silently skipping the gate.
		return Result{Allowed: false, Error: "no rate limit policy for action: " + string(action)}
	}

	key := userID + ":" + string(action)
	allowed, remaining, reset, err := l.store.Hit(ctx, key, policy.MaxRequests, policy.Window)
	if err != nil {
		// Fail open: availability over strictness.
		l.log.Warn().Err(err).Str("user_id", userID).Str("action", string(action)).
			Msg("rate limit store unreachable, allowing request")
		return Result{Allowed: true, Remaining: policy.MaxRequests, ResetTime: time.Now().Add(policy.Window), Error: err.Error()}
	}

	return Result{Allowed: allowed, Remaining: remaining, ResetTime: reset}
}
