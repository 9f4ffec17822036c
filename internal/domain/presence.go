package domain

// PresenceEntry is one identified user currently in a room. Derived from the
// registry on every membership change, never stored.
type PresenceEntry struct {
	UserID       UserID       `json:"userId"`
	ConnectionID ConnectionID `json:"connectionId"`
	JoinedAt     int64        `json:"joinedAt"`
}

// PresenceState is the payload of a presence envelope. The Users slice has no
// ordering guarantee; consumers must treat it as a set.
type PresenceState struct {
	ProjectID ProjectID       `json:"projectId"`
	Users     []PresenceEntry `json:"users"`
	Count     int             `json:"count"`
}

// ErrorPayload is the payload of an error envelope sent back to a connection
// that produced a malformed or incomplete frame.
type ErrorPayload struct {
	Error string `json:"error"`
}
