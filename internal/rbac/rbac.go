package rbac

type Role string
type Action string

const (
	RoleIdeaOwner Role = "idea-owner"
	RoleInvestor  Role = "investor"
	RoleAdmin     Role = "admin"
)

const (
	ActionSubmitIdea     Action = "submit-idea"
	ActionViewOwnIdeas   Action = "view-own-ideas"
	ActionUploadEvidence Action = "upload-evidence"
	ActionBrowseReady    Action = "browse-ready"
	ActionAgreeNDA       Action = "agree-nda"
	ActionChat           Action = "chat"
	ActionReview         Action = "review"
	ActionTransition     Action = "transition"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action == ActionReview || action == ActionTransition ||
			action == ActionBrowseReady || action == ActionChat
	case RoleIdeaOwner:
		return action == ActionSubmitIdea || action == ActionViewOwnIdeas ||
			action == ActionUploadEvidence || action == ActionChat
	case RoleInvestor:
		return action == ActionBrowseReady || action == ActionAgreeNDA ||
			action == ActionChat
	default:
		return false
	}
}

// Normalize maps an unknown role string to the empty role rather than
// defaulting to any permission set.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleIdeaOwner, RoleInvestor, RoleAdmin:
		return Role(role)
	default:
		return ""
	}
}
