// internal/identity/models.go

package identity

import "context"

// Role is the closed set of roles the internship platform issues.
// The accounts service owns role assignment; the chat core only reads it.
type Role string

const (
	RoleStudent        Role = "student"
	RoleInstructor     Role = "instructor"
	RoleDepartmentHead Role = "department-head"
	RoleFrontOffice    Role = "front-office"
)

// SharedQueueRole is the role whose pending chat requests form a shared
// queue: every online holder of the role sees and may claim them.
const SharedQueueRole = RoleFrontOffice

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleDepartmentHead, RoleFrontOffice:
		return true
	}
	return false
}

// IsSupport reports whether the role handles incoming chat requests.
func (r Role) IsSupport() bool {
	switch r {
	case RoleInstructor, RoleDepartmentHead, RoleFrontOffice:
		return true
	}
	return false
}

// CanEndConversations reports whether the role may close an active
// conversation for everyone.
func (r Role) CanEndConversations() bool {
	return r == RoleFrontOffice || r == RoleDepartmentHead
}

// CanAudit reports whether the role may read conversations it does not
// participate in.
func (r Role) CanAudit() bool {
	return r == RoleDepartmentHead
}

// Principal is the authenticated identity attached to every operation.
// It is supplied by the session service and never mutated here.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
