package access

// Alert is the operator-facing view of a delivery or DLQ alert. Internal
// fields carry diagnostic detail that only threshold administrators see.
type Alert struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	DepartmentID   string         `json:"departmentId,omitempty"`
	TeamID         string         `json:"teamId,omitempty"`
	Severity       string         `json:"severity"`
	Summary        string         `json:"summary"`
	Details        map[string]any `json:"details,omitempty"`

	// InternalMetadata and SystemDetails are stripped for contexts without
	// the configure_thresholds permission.
	InternalMetadata map[string]any `json:"internalMetadata,omitempty"`
	SystemDetails    map[string]any `json:"systemDetails,omitempty"`
}

// CanAccessAlert reports whether the context may see the alert at all.
func (u *UserContext) CanAccessAlert(a *Alert) bool {
	return u.CanAccessResource(Resource{
		OrganizationID: a.OrganizationID,
		DepartmentID:   a.DepartmentID,
		TeamID:         a.TeamID,
	})
}

// SanitizeAlert returns a copy of the alert appropriate for the context.
// Internal metadata is dropped unless the context holds configure_thresholds.
// Returns nil on organization mismatch: the caller should already have
// filtered, this is defense in depth.
func (u *UserContext) SanitizeAlert(a *Alert) *Alert {
	if a == nil || !u.CanAccessOrganization(a.OrganizationID) {
		return nil
	}
	cp := *a
	if !u.HasPermission(PermissionConfigure) {
		cp.InternalMetadata = nil
		cp.SystemDetails = nil
	}
	return &cp
}
