package model

// IdentityKind discriminates the two caller identity variants.
type IdentityKind string

const (
	IdentityAnonymous     IdentityKind = "anonymous"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// Identity is the caller behind a request. Exactly one variant is populated:
// an authenticated principal (PrincipalID, Email) or an anonymous session
// (SessionID).
type Identity struct {
	Kind        IdentityKind `json:"kind"`
	PrincipalID string       `json:"principal_id,omitempty"`
	Email       string       `json:"email,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
}

// Principal is an authenticated account as known by the credential store.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
}

func AuthenticatedIdentity(p Principal) Identity {
	return Identity{Kind: IdentityAuthenticated, PrincipalID: p.ID, Email: p.Email}
}

func AnonymousIdentity(sessionID string) Identity {
	return Identity{Kind: IdentityAnonymous, SessionID: sessionID}
}

func (i Identity) IsAuthenticated() bool {
	return i.Kind == IdentityAuthenticated && i.PrincipalID != ""
}

func (i Identity) IsAnonymous() bool {
	return i.Kind == IdentityAnonymous && i.SessionID != ""
}

// Owner returns the identity as a session owner pair; exactly one of the
// returned values is non-empty for a valid identity.
func (i Identity) Owner() (principalID, anonymousID string) {
	if i.IsAuthenticated() {
		return i.PrincipalID, ""
	}
	return "", i.SessionID
}
