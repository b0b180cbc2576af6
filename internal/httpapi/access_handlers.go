package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"strata.org/internal/access"
)

type resolveRequest struct {
	NodeID string `json:"node_id"`
	UserID string `json:"user_id"`
}

type scopeNode struct {
	ID   string      `json:"id"`
	Path string      `json:"path"`
	Role access.Role `json:"role"`
}

type scopeResponse struct {
	Items []scopeNode `json:"items"`
	Total int         `json:"total"`
}

// handleResolve answers "can the caller act on this node (or see this user)"
// with a full verdict, including the deny reason.
func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	req.UserID = strings.TrimSpace(req.UserID)

	var (
		verdict access.Verdict
		err     error
	)
	switch {
	case req.NodeID != "" && req.UserID == "":
		verdict, err = a.access.Authorize(r.Context(), actor, req.NodeID)
	case req.UserID != "" && req.NodeID == "":
		target, ferr := a.users.Find(r.Context(), req.UserID)
		if ferr != nil {
			err = ferr
		} else {
			verdict, err = a.access.AuthorizeUser(r.Context(), actor, target.HierarchyID)
		}
	default:
		writeError(w, r, http.StatusBadRequest, "exactly one of node_id or user_id is required")
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	// The verdict is always about the caller's own access, so Reason only
	// describes the caller's own grants (expired, inactive anchor, none) and
	// reveals nothing they could not already see.
	writeJSON(w, http.StatusOK, verdict)
}

func (a *API) handleScope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	opts := access.ScopeOptions{
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
	}
	scope, err := a.access.Scope(r.Context(), actor, opts)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	items := make([]scopeNode, 0, scope.Len())
	for id, node := range scope.Nodes {
		items = append(items, scopeNode{
			ID:   id,
			Path: node.Path.String(),
			Role: scope.RoleFor(id),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	writeJSON(w, http.StatusOK, scopeResponse{Items: items, Total: len(items)})
}

func (a *API) handleFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	filter, err := a.access.Filter(r.Context(), actor, access.ScopeOptions{})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if filter == nil {
		filter = access.Filter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": filter,
		"total": len(filter),
	})
}
