package rbac

import "testing"

func TestRoleActionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		action  Action
		allowed bool
	}{
		{"owner submits ideas", RoleIdeaOwner, ActionSubmitIdea, true},
		{"owner uploads evidence", RoleIdeaOwner, ActionUploadEvidence, true},
		{"owner cannot transition", RoleIdeaOwner, ActionTransition, false},
		{"owner cannot review", RoleIdeaOwner, ActionReview, false},
		{"investor browses ready ideas", RoleInvestor, ActionBrowseReady, true},
		{"investor agrees nda", RoleInvestor, ActionAgreeNDA, true},
		{"investor cannot submit", RoleInvestor, ActionSubmitIdea, false},
		{"investor cannot review", RoleInvestor, ActionReview, false},
		{"admin transitions", RoleAdmin, ActionTransition, true},
		{"admin reviews", RoleAdmin, ActionReview, true},
		{"admin does not submit ideas", RoleAdmin, ActionSubmitIdea, false},
		{"everyone chats", RoleInvestor, ActionChat, true},
		{"unknown role denied everything", Role(""), ActionChat, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allowed {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allowed)
			}
		})
	}
}

func TestNormalizeUnknownRoleIsEmpty(t *testing.T) {
	if Normalize("superuser") != "" {
		t.Fatal("unknown roles must not normalize to a privileged role")
	}
	if Normalize("admin") != RoleAdmin {
		t.Fatal("known roles must round-trip")
	}
}
