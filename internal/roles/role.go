package roles

// Role is the effective role that drives routing and area access.
type Role string

const (
	Admin   Role = "admin"
	Partner Role = "partner"
	Student Role = "student"
)

// Group names carried in the identity provider's role claim.
const (
	AdminGroup   = "Admin"
	PartnerGroup = "PARTNERS"
)

// ClaimKeys are the profile claims inspected for role groups, in order.
var ClaimKeys = []string{"cognito:groups", "custom:role"}

func (r Role) String() string { return string(r) }

// Group returns the claim value that grants r, or "" for Student which is
// implicit.
func (r Role) Group() string {
	switch r {
	case Admin:
		return AdminGroup
	case Partner:
		return PartnerGroup
	}
	return ""
}

// Groups collects every group string found in claims under ClaimKeys.
// A claim may be a single string or a list of strings.
func Groups(claims map[string]interface{}) []string {
	var out []string
	for _, key := range ClaimKeys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case []string:
			out = append(out, v...)
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// FromClaims resolves a recognized role from claims. Admin is checked before
// Partner. ok is false when neither group is present.
func FromClaims(claims map[string]interface{}) (Role, bool) {
	groups := Groups(claims)
	if contains(groups, AdminGroup) {
		return Admin, true
	}
	if contains(groups, PartnerGroup) {
		return Partner, true
	}
	return "", false
}

// Resolve is the single role resolution used by sign-in and by every area
// guard. The decoded profile wins over the raw stored record; without a
// recognized group anywhere the session is a Student.
func Resolve(profile, raw map[string]interface{}) Role {
	if r, ok := FromClaims(profile); ok {
		return r
	}
	if r, ok := FromClaims(raw); ok {
		return r
	}
	return Student
}

// Has reports whether the claims grant role. Student is implicit for every
// session; the other roles need their group in the profile or, failing that,
// in the raw stored record.
func Has(role Role, profile, raw map[string]interface{}) bool {
	group := role.Group()
	if group == "" {
		return true
	}
	return contains(Groups(profile), group) || contains(Groups(raw), group)
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
