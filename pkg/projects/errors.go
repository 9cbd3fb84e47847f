package projects

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden means the actor lacks the authority for the operation
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers missing projects, roles, users and memberships
	ErrNotFound = errors.New("not found")
	// ErrAlreadyMember is returned when adding a user twice to one project
	ErrAlreadyMember = errors.New("user is already a member of this project")
	// ErrLastOwner blocks removing or demoting the last member at the top rank
	ErrLastOwner = errors.New("project must keep at least one member at the top rank")
	// ErrLastSystemAdmin blocks revoking the last active system admin
	ErrLastSystemAdmin = errors.New("at least one active system admin must remain")
	// ErrInvalidPermission is returned for permission names outside the catalog
	ErrInvalidPermission = errors.New("invalid permission")
	// ErrInvalidInput covers any other malformed argument
	ErrInvalidInput = errors.New("invalid input")
	// ErrSelfPromotion is returned when a member tries to move themselves to a role
	// that is not strictly below their own
	ErrSelfPromotion = fmt.Errorf("%w: members cannot promote themselves", ErrForbidden)
)
