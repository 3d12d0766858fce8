package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Identity  string
	Action    string
	Origin    string
	Outcome   string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventChallengeRequested AuditEvent = "challenge_requested"
	EventDeliveryFailed     AuditEvent = "challenge_delivery_failed"
	EventRedeemed           AuditEvent = "redeemed"
	EventRedeemFailed       AuditEvent = "redeem_failed"
	EventBypassUsed         AuditEvent = "bypass_used"
	EventTokenRefreshed     AuditEvent = "token_refreshed"
	EventLoggedOut          AuditEvent = "logged_out"
	EventLoggedOutAll       AuditEvent = "logged_out_all"
	EventSuspended          AuditEvent = "suspended"
	EventRateLimited        AuditEvent = "rate_limited"
)
