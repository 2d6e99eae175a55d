package auth

// Principal is the authenticated identity this service trusts as given. The
// identity provider that issues it lives outside this codebase; the email is
// carried along because the viewer watermarks rendered documents with it.
type Principal struct {
	ID          string
	Email       string
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with a preloaded permission set.
func NewPrincipal(id, email string, perms []string) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range dedupePermissions(perms) {
		set[p] = struct{}{}
	}
	return Principal{ID: id, Email: email, Permissions: set}
}

// HasPermission reports whether the principal can execute the action
// identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}
