package types

// Reasons attached to workflow results.  They are stable strings: the
// HTTP API, the console and the audit log all carry them verbatim.
const (
	ReasonCardMatched   = "card_matched"
	ReasonCardBound     = "card_bound"
	ReasonNoFrame       = "no_frame"
	ReasonNoFace        = "no_face"
	ReasonNotRecognized = "face_not_recognized"
	ReasonNoCard        = "no_card"
	ReasonWaitCancelled = "wait_cancelled"
	ReasonCardMismatch  = "card_mismatch"
	ReasonCardOwned     = "card_owned_by_another_identity"
	ReasonBindDeclined  = "bind_declined"
	ReasonConfirmFailed = "confirm_failed"
	ReasonDuplicate     = "duplicate_identity"
	ReasonInvalidLabel  = "invalid_label"
	ReasonAmbiguous     = "ambiguous"
	ReasonNotFound      = "not_found"
	ReasonBusy          = "busy"
	ReasonCaptureFailed = "capture_failed"
	ReasonExtractFailed = "extract_failed"
	ReasonStorage       = "storage_error"
)

type UnlockStatus string

const (
	UnlockGranted   UnlockStatus = "granted"
	UnlockDenied    UnlockStatus = "denied"
	UnlockCancelled UnlockStatus = "cancelled"
	UnlockError     UnlockStatus = "error"
)

type UnlockRequest struct {
	// BindIfUnbound pre-answers the bind confirmation for callers that
	// cannot prompt an operator mid-workflow.
	BindIfUnbound bool `json:"bind_if_unbound"`
}

type UnlockResult struct {
	Status      UnlockStatus  `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	IdentityID  string        `json:"identity_id,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Presence    PresenceState `json:"presence_state,omitempty"`
	CardBound   bool          `json:"card_bound,omitempty"`
	ServerTime  string        `json:"server_time"`
}

type EnrollStatus string

const (
	EnrollCreated            EnrollStatus = "created"
	EnrollCreatedWithoutCard EnrollStatus = "created_without_card"
	EnrollRejected           EnrollStatus = "rejected"
	EnrollError              EnrollStatus = "error"
)

type EnrollRequest struct {
	Label    string `json:"label"`
	WithCard bool   `json:"with_card"`
}

type EnrollResult struct {
	Status      EnrollStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	IdentityID  string       `json:"identity_id,omitempty"`
	DisplayName string       `json:"display_name,omitempty"`
	ServerTime  string       `json:"server_time"`
}

type RemoveStatus string

const (
	RemoveRemoved  RemoveStatus = "removed"
	RemoveNotFound RemoveStatus = "not_found"
	RemoveError    RemoveStatus = "error"
)

type RemoveResult struct {
	Status          RemoveStatus `json:"status"`
	Reason          string       `json:"reason,omitempty"`
	IdentityID      string       `json:"identity_id,omitempty"`
	BindingRemoved  bool         `json:"binding_removed,omitempty"`
	PresenceRemoved bool         `json:"presence_removed,omitempty"`
	PhotoRemoved    bool         `json:"photo_removed,omitempty"`
	ServerTime      string       `json:"server_time"`
}

// ReconcileReport lists rows the reconciliation pass deleted because their
// identity no longer exists.
type ReconcileReport struct {
	OrphanBindings []string `json:"orphan_bindings"`
	OrphanPresence []string `json:"orphan_presence"`
}

// Status is the access point snapshot served by the status endpoint.
type Status struct {
	ReaderPresent  bool    `json:"reader_present"`
	Identities     int     `json:"identities"`
	Bindings       int     `json:"bindings"`
	Inside         int     `json:"inside"`
	Workflow       string  `json:"workflow,omitempty"`
	MatchTolerance float64 `json:"match_tolerance"`
	MatchPolicy    string  `json:"match_policy"`
	ServerTime     string  `json:"server_time"`
}
