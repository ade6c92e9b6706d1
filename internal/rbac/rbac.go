package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	ActionManageMembers Action = "manage_members"
	ActionManageColumns Action = "manage_columns"
	ActionReorder       Action = "reorder"
	ActionEditOwnTasks  Action = "edit_own_tasks"
	ActionDeleteAnyTask Action = "delete_any_task"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return action == ActionReorder || action == ActionEditOwnTasks
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(role)
	default:
		return ""
	}
}

func Valid(role string) bool {
	return Normalize(role) != ""
}
