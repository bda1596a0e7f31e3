package types

import "time"

// VectorLength is the length of the face encodings produced by the
// extractor in use today.  Matching rejects stored vectors of any other
// length.
const VectorLength = 128

// Vector is a face encoding.  It is stored as a raw float64 array and is
// never re-derived once an identity is enrolled.
type Vector []float64

// Clone returns a copy that does not share the backing array.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Identity is an enrolled person.  ID is the canonical key chosen once at
// enrollment and used by every store.
type Identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Vector      Vector    `json:"-"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// CredentialBinding ties an identity to exactly one card UID.
type CredentialBinding struct {
	IdentityID string    `json:"identity_id"`
	CardUID    string    `json:"card_uid"`
	BoundAt    time.Time `json:"bound_at"`
}

// Photo is the frame an identity was enrolled from.  It is shown to the
// operator and never used for matching.
type Photo struct {
	IdentityID  string
	ContentType string
	Data        []byte
	CapturedAt  time.Time
}

// IdentitySummary is the read-only view handed to presentation layers.
type IdentitySummary struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"display_name"`
	HasBinding    bool          `json:"has_binding"`
	CardUIDSuffix string        `json:"card_uid_suffix,omitempty"`
	Presence      PresenceState `json:"presence_state"`
	HasPhoto      bool          `json:"has_photo"`
	LastAccess    *time.Time    `json:"last_access,omitempty"`
	EnrolledAt    time.Time     `json:"enrolled_at"`
}
