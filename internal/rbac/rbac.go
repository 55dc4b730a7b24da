package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
	ActionInvoke Action = "invoke"
)

// Can reports whether an organization member with role may perform action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionInvoke
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// ForResource returns the action a write to resource requires. Settings-like
// resources are admin territory; lead data is editable by members.
func ForResource(resource string) Action {
	switch resource {
	case "ai_settings", "assignment_rules", "workflows", "whatsapp_instances", "personas":
		return ActionManage
	default:
		return ActionWrite
	}
}
