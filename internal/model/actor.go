package model

// Actor is a participant known to the producer, used by post-load passes.
type Actor struct {
	ID   string
	Name string
	Kind ActorKind

	// Properties are extra node properties set after the load (merchants, banks).
	Properties map[string]string
}

// Identity holds the personal details attached to a client account.
type Identity struct {
	ClientID    string
	Name        string
	Email       string
	SSN         string
	PhoneNumber string
}
