package auth

// Roles recognized by the API. Admin implies every other role.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
	RoleApprover = "approver"
	RoleViewer   = "viewer"
	RoleAuditor  = "auditor"
)

// Principal is the authenticated entity making a request.
type Principal struct {
	ID       string
	TenantID string
	Roles    []string
}

// HasRole reports whether the principal carries the role. Admins pass every
// role check.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == RoleAdmin || r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal carries at least one of the roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}
