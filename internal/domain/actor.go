package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Owns reports whether the actor is the given user.
func (a Actor) Owns(userID string) bool { return a.UserID != "" && a.UserID == userID }

// ActorGateway identifies server-to-server calls from the payment provider.
const ActorGateway = "gateway"
