package access

import "time"

// Grant attaches a role for one user to one hierarchy node. With
// InheritToDescendants the role also applies to everything below the anchor;
// a grant never reaches upward. Terminated grants (revoked or expired) stay
// on record and simply read as not effective.
type Grant struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	HierarchyID          string            `json:"hierarchy_id"`
	Role                 Role              `json:"role"`
	InheritToDescendants bool              `json:"inherit_to_descendants"`
	GrantedBy            string            `json:"granted_by"`
	GrantedAt            time.Time         `json:"granted_at"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty"`
	RevokedAt            *time.Time        `json:"revoked_at,omitempty"`
	IsActive             bool              `json:"is_active"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// EffectiveAt reports whether the grant carries any weight at the given
// instant: active, not revoked, and not past its expiry.
func (g Grant) EffectiveAt(at time.Time) bool {
	if !g.IsActive || g.RevokedAt != nil {
		return false
	}
	if g.ExpiresAt != nil && !at.Before(*g.ExpiresAt) {
		return false
	}
	return true
}
