package auth

// Platform roles. Every authenticated user holds at least RoleSubmitter;
// RoleAdmin does not imply the others, so an endpoint that needs both admin
// and reviewer must check for both.
const (
	RoleSubmitter = "submitter"
	RoleReviewer  = "reviewer"
	RoleAdmin     = "admin"
)

// DefaultRoles is granted to users whose identity provider profile carries no
// role information.
var DefaultRoles = []string{RoleSubmitter}

// HasRole reports whether roles contains want.
func HasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles contains at least one of want. An empty
// want list is vacuously false.
func HasAnyRole(roles []string, want ...string) bool {
	for _, w := range want {
		if HasRole(roles, w) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether roles contains every entry of want. An empty
// want list is vacuously true.
func HasAllRoles(roles []string, want ...string) bool {
	for _, w := range want {
		if !HasRole(roles, w) {
			return false
		}
	}
	return true
}

// NormalizeRoles returns roles with duplicates and empty entries removed,
// preserving first-seen order, falling back to DefaultRoles when nothing
// remains. Identity providers are not trusted to send clean lists.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, DefaultRoles...)
	}
	return out
}
