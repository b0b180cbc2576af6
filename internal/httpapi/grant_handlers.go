package httpapi

import (
	"net/http"
	"strings"
	"time"

	"strata.org/internal/access"
	"strata.org/internal/stream"
)

type issueGrantRequest struct {
	UserID               string            `json:"user_id"`
	HierarchyID          string            `json:"hierarchy_id"`
	Role                 access.Role       `json:"role"`
	InheritToDescendants bool              `json:"inherit_to_descendants"`
	ExpiresAt            *time.Time        `json:"expires_at"`
	Metadata             map[string]string `json:"metadata"`
}

type amendGrantRequest struct {
	Role                 *access.Role `json:"role"`
	InheritToDescendants *bool        `json:"inherit_to_descendants"`
	ExpiresAt            *time.Time   `json:"expires_at"`
	ClearExpiry          bool         `json:"clear_expiry"`
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueGrant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPatch:
			a.amendGrant(w, r, id)
		case http.MethodDelete:
			a.revokeGrant(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeGrant(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) issueGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req issueGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := a.access.Issue(r.Context(), actor, access.GrantRequest{
		UserID:               req.UserID,
		HierarchyID:          req.HierarchyID,
		Role:                 req.Role,
		InheritToDescendants: req.InheritToDescendants,
		ExpiresAt:            req.ExpiresAt,
		Metadata:             req.Metadata,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "grant.issued", map[string]any{
		"grant_id":     grant.ID,
		"user_id":      grant.UserID,
		"hierarchy_id": grant.HierarchyID,
		"role":         grant.Role.String(),
		"inherit":      grant.InheritToDescendants,
	})
	a.publish(stream.Event{
		Kind:        stream.KindGrantIssued,
		GrantID:     grant.ID,
		UserID:      grant.UserID,
		HierarchyID: grant.HierarchyID,
	})
	w.Header().Set("Location", "/v1/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) amendGrant(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req amendGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := a.access.Amend(r.Context(), actor, id, access.GrantUpdate{
		Role:                 req.Role,
		InheritToDescendants: req.InheritToDescendants,
		ExpiresAt:            req.ExpiresAt,
		ClearExpiry:          req.ClearExpiry,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "grant.amended", map[string]any{
		"grant_id": grant.ID,
		"role":     grant.Role.String(),
	})
	a.publish(stream.Event{
		Kind:        stream.KindGrantAmended,
		GrantID:     grant.ID,
		UserID:      grant.UserID,
		HierarchyID: grant.HierarchyID,
	})
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	if err := a.access.Revoke(r.Context(), actor, id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "grant.revoked", map[string]any{
		"grant_id": id,
	})
	a.publish(stream.Event{Kind: stream.KindGrantRevoked, GrantID: id})
	w.WriteHeader(http.StatusNoContent)
}
