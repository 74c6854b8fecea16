package domain

// Association is GitHub's author_association for a comment or PR author.
type Association string

const (
	AssociationOwner        Association = "OWNER"
	AssociationMember       Association = "MEMBER"
	AssociationCollaborator Association = "COLLABORATOR"
	AssociationContributor  Association = "CONTRIBUTOR"
	AssociationNone         Association = "NONE"
)

type User struct {
	Login       string
	Association Association
}

// IsMaintainer reports whether the user may score, pause and exclude.
func (u User) IsMaintainer() bool {
	switch u.Association {
	case AssociationOwner, AssociationMember, AssociationCollaborator:
		return true
	default:
		return false
	}
}
