// Package rbac evaluates space permissions. Every handler decision goes
// through Decide so the full policy, including the merge-vs-edit
// divergence, lives in one testable place.
package rbac

type Role string
type Action string

const (
	RoleNone      Role = ""
	RoleViewer    Role = "viewer"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	// ActionView gates read access to a space and its contents.
	ActionView Action = "view"
	// ActionContribute gates creating proposals, supporting them and
	// commenting on posts. Any member of the space may contribute.
	ActionContribute Action = "contribute"
	// ActionEditProposal gates editing and deleting a proposal. The
	// proposal's original author may do this without a moderator role.
	ActionEditProposal Action = "edit_proposal"
	// ActionMerge gates creating merged proposals. Authorship is NOT
	// sufficient here; only moderators and admins may merge.
	ActionMerge Action = "merge"
	// ActionManageSets gates proposal set create/edit/delete and
	// custom field management.
	ActionManageSets Action = "manage_sets"
	// ActionModerate gates editorial operations on news posts.
	ActionModerate Action = "moderate"
	// ActionManageSpace gates space settings and role grants.
	ActionManageSpace Action = "manage_space"
)

// Decide returns whether a caller holding role in a space, and who may
// or may not be the author of the targeted resource, can perform action.
func Decide(role Role, isAuthor bool, action Action) bool {
	switch action {
	case ActionView, ActionContribute:
		return role == RoleViewer || role == RoleModerator || role == RoleAdmin
	case ActionEditProposal:
		return role == RoleModerator || role == RoleAdmin || isAuthor
	case ActionMerge, ActionManageSets, ActionModerate:
		return role == RoleModerator || role == RoleAdmin
	case ActionManageSpace:
		return role == RoleAdmin
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleNone
	}
}
