package rbac

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		name     string
		role     Role
		isAuthor bool
		action   Action
		allow    bool
	}{
		{name: "viewer view", role: RoleViewer, action: ActionView, allow: true},
		{name: "viewer contribute", role: RoleViewer, action: ActionContribute, allow: true},
		{name: "viewer manage sets", role: RoleViewer, action: ActionManageSets, allow: false},
		{name: "viewer moderate", role: RoleViewer, action: ActionModerate, allow: false},
		{name: "viewer edit other proposal", role: RoleViewer, action: ActionEditProposal, allow: false},
		{name: "author edits own proposal", role: RoleViewer, isAuthor: true, action: ActionEditProposal, allow: true},
		{name: "author cannot merge", role: RoleViewer, isAuthor: true, action: ActionMerge, allow: false},
		{name: "moderator merge", role: RoleModerator, action: ActionMerge, allow: true},
		{name: "moderator manage sets", role: RoleModerator, action: ActionManageSets, allow: true},
		{name: "moderator manage space", role: RoleModerator, action: ActionManageSpace, allow: false},
		{name: "admin manage space", role: RoleAdmin, action: ActionManageSpace, allow: true},
		{name: "admin merge", role: RoleAdmin, action: ActionMerge, allow: true},
		{name: "no role view", role: RoleNone, action: ActionView, allow: false},
		{name: "no role author edit", role: RoleNone, isAuthor: true, action: ActionEditProposal, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.role, tc.isAuthor, tc.action); got != tc.allow {
				t.Fatalf("Decide(%q, %v, %q) = %v, want %v", tc.role, tc.isAuthor, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("moderator") != RoleModerator {
		t.Fatal("expected moderator to normalize to itself")
	}
	if Normalize("owner") != RoleNone {
		t.Fatal("expected unknown role to normalize to none")
	}
}
