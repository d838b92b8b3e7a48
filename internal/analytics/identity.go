package analytics

// RoleAdmin may generate every report type.
const RoleAdmin = "admin"

// Identity is the caller a report is generated for. It is passed in
// explicitly with every request.
type Identity struct {
	UserID string
	Roles  []string
	// Facility, when set, restricts every report to that facility.
	Facility string
}

// Allowed reports whether the identity holds one of the roles. Admin is
// always allowed, and an empty role list admits any identity.
func (i Identity) Allowed(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, have := range i.Roles {
		if have == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
