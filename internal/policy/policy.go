package policy

// Verb is a canonical operation kind. Transport routes map onto these
// before any decision is made, so two endpoints that perform the same
// kind of mutation share one rule.
type Verb string

const (
	// VerbRead covers metadata fetches and object probes.
	VerbRead Verb = "read"

	// VerbUpdate covers partial metadata updates.
	VerbUpdate Verb = "update"

	// VerbDelete covers dataset removal.
	VerbDelete Verb = "delete"

	// VerbCreateChild covers subresource creation: appends, duplicates,
	// and anything else that adds content under an existing dataset.
	VerbCreateChild Verb = "create-subresource"
)

// Visibility is the access tuple embedded in every dataset record.
// The owner counts as an editor for authorization purposes whether or
// not the editors set literally contains them.
type Visibility struct {
	Owner    string   `json:"owner"`
	Editors  []string `json:"editors"`
	Viewers  []string `json:"viewers"`
	IsPublic bool     `json:"isPublic"`
}

// IsEditor reports whether the caller may edit. Owner is implicit.
func (v Visibility) IsEditor(callerID string) bool {
	if callerID == v.Owner {
		return true
	}
	return contains(v.Editors, callerID)
}

// IsViewer reports literal viewer membership.
func (v Visibility) IsViewer(callerID string) bool {
	return contains(v.Viewers, callerID)
}

// Decide is the visibility policy engine: a pure verdict over
// (visibility record, caller, verb). Unknown verbs deny.
func Decide(v Visibility, callerID string, verb Verb) bool {
	switch verb {
	case VerbRead:
		return v.IsEditor(callerID) || v.IsViewer(callerID) || v.IsPublic
	case VerbUpdate:
		return v.IsEditor(callerID)
	case VerbDelete:
		return callerID == v.Owner
	case VerbCreateChild:
		return v.IsEditor(callerID)
	default:
		return false
	}
}

func contains(set []string, id string) bool {
	for _, member := range set {
		if member == id {
			return true
		}
	}
	return false
}
