package types

import "time"

type PresenceState string

const (
	PresenceOutside PresenceState = "outside"
	PresenceInside  PresenceState = "inside"
)

// Toggle returns the state after one successful unlock.
func (s PresenceState) Toggle() PresenceState {
	if s == PresenceInside {
		return PresenceOutside
	}
	return PresenceInside
}

// PresenceRecord is absent until an identity's first successful unlock;
// an absent record reads as outside.
type PresenceRecord struct {
	IdentityID string        `json:"identity_id"`
	State      PresenceState `json:"presence_state"`
	LastAccess time.Time     `json:"last_access"`
}
