package access

import "fmt"

// CrossOrgError reports an attempt to touch a resource in a different
// organization. It carries both ids for audit logging; never attach payload
// contents to it.
type CrossOrgError struct {
	UserOrganizationID     string
	ResourceOrganizationID string
}

func (e *CrossOrgError) Error() string {
	return fmt.Sprintf("access: cross-organization access denied (user org %q, resource org %q)",
		e.UserOrganizationID, e.ResourceOrganizationID)
}

// PreventCrossOrgAccess returns a CrossOrgError when the context and the
// resource organization differ. Call it on every path that loads a resource
// by id, before the resource leaves the storage layer.
func (u *UserContext) PreventCrossOrgAccess(resourceOrgID string) error {
	if u.OrganizationID == resourceOrgID {
		return nil
	}
	return &CrossOrgError{
		UserOrganizationID:     u.OrganizationID,
		ResourceOrganizationID: resourceOrgID,
	}
}
