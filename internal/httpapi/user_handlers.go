package httpapi

import (
	"net/http"
	"strings"

	"strata.org/internal/access"
	"strata.org/internal/directory"
)

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	HierarchyID string `json:"hierarchy_id"`
}

type updateUserRequest struct {
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	Status      *string `json:"status"`
	HierarchyID *string `json:"hierarchy_id"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listVisibleUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, id)
		case http.MethodPatch:
			a.updateUser(w, r, id)
		case http.MethodDelete:
			a.disableUser(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "grants":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listUserGrants(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// listVisibleUsers returns every user whose base node falls inside the
// caller's scope, via the covering filter pushed down to the store.
func (a *API) listVisibleUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	filter, err := a.access.Filter(r.Context(), actor, access.ScopeOptions{})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	users, err := a.users.ListVisible(r.Context(), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"total": len(users),
	})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.HierarchyID = strings.TrimSpace(req.HierarchyID)
	if req.HierarchyID == "" {
		writeError(w, r, http.StatusBadRequest, "hierarchy_id is required")
		return
	}
	if !a.requireRole(w, r, actor, req.HierarchyID, access.RoleAdmin) {
		return
	}

	user, err := a.users.Create(r.Context(), req.Email, req.Password, req.HierarchyID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "directory.user.create", map[string]any{
		"user_id":      user.ID,
		"hierarchy_id": user.HierarchyID,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// getUser requires visibility of the target through its base node; users can
// always read themselves.
func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	user, err := a.users.Find(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if actor != user.ID {
		verdict, err := a.access.AuthorizeUser(r.Context(), actor, user.HierarchyID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if !verdict.Allowed {
			writeError(w, r, http.StatusForbidden, "target user outside caller scope")
			return
		}
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.users.Find(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !a.requireRole(w, r, actor, user.HierarchyID, access.RoleManager) {
		return
	}
	// Re-anchoring a user also needs admin on the destination node.
	if req.HierarchyID != nil && !a.requireRole(w, r, actor, strings.TrimSpace(*req.HierarchyID), access.RoleAdmin) {
		return
	}

	updated, err := a.users.Update(r.Context(), id, directory.UserUpdate{
		Email:       req.Email,
		Password:    req.Password,
		Status:      req.Status,
		HierarchyID: req.HierarchyID,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "directory.user.update", map[string]any{
		"user_id": updated.ID,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) disableUser(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	user, err := a.users.Find(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !a.requireRole(w, r, actor, user.HierarchyID, access.RoleAdmin) {
		return
	}
	if err := a.users.Disable(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "directory.user.disable", map[string]any{
		"user_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

// listUserGrants shows a user's grants to themselves or to an admin on their
// base node.
func (a *API) listUserGrants(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	if actor != id {
		user, err := a.users.Find(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if !a.requireRole(w, r, actor, user.HierarchyID, access.RoleAdmin) {
			return
		}
	}
	grants, err := a.access.GrantsForUser(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if grants == nil {
		grants = []access.Grant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": grants,
		"total": len(grants),
	})
}
