package main

// Role is the role id carried by an access token.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Action is an operation on any instance of a resource.
type Action string

const (
	ActionCreateAny Action = "create:any"
	ActionReadAny   Action = "read:any"
	ActionUpdateAny Action = "update:any"
	ActionDeleteAny Action = "delete:any"
)

// Resource is a protected kind of object.
type Resource string

const (
	ResourceBook Resource = "book"
)

// grants maps each role to the actions it may perform per resource.
var grants = map[Role]map[Resource][]Action{
	RoleAdmin: {
		ResourceBook: {ActionCreateAny, ActionReadAny, ActionUpdateAny, ActionDeleteAny},
	},
	RoleUser: {
		ResourceBook: {ActionReadAny},
	},
}

// IsKnownRole reports whether the role appears in the grants table.
func IsKnownRole(role Role) bool {
	_, ok := grants[role]
	return ok
}

// Can reports whether role is granted action on resource.
func Can(role Role, action Action, resource Resource) bool {
	for _, a := range grants[role][resource] {
		if a == action {
			return true
		}
	}
	return false
}
