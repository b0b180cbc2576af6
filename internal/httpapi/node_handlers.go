package httpapi

import (
	"net/http"
	"strings"

	"strata.org/internal/access"
	"strata.org/internal/hierarchy"
	"strata.org/internal/stream"
)

type createNodeRequest struct {
	ParentID string            `json:"parent_id"`
	Segment  string            `json:"segment"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

type moveNodeRequest struct {
	NewParentID string `json:"new_parent_id"`
}

type updateNodeRequest struct {
	IsActive *bool `json:"is_active"`
}

// requireRole resolves the actor's access to nodeID and enforces a minimum
// role. It writes the response on failure.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, actorID, nodeID string, min access.Role) bool {
	verdict, err := a.access.Authorize(r.Context(), actorID, nodeID)
	if err != nil {
		handleDomainError(w, r, err)
		return false
	}
	if !verdict.Allowed || verdict.Role < min {
		writeError(w, r, http.StatusForbidden, "insufficient role for "+nodeID)
		return false
	}
	return true
}

func (a *API) handleNodesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createNode(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleNodeResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/nodes/"), "/")
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
			a.getNode(w, r, id)
		case http.MethodPatch:
			a.updateNode(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
	case len(parts) == 2 && parts[1] == "children":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listChildren(w, r, id)
	case len(parts) == 2 && parts[1] == "move":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.moveNode(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// createNode adds a node. Creating under a parent requires admin on that
// parent; creating a root is a bootstrap operation normally done by seeds.
func (a *API) createNode(w http.ResponseWriter, r *http.Request) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req createNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	req.ParentID = strings.TrimSpace(req.ParentID)
	if req.ParentID != "" {
		if !a.requireRole(w, r, actor, req.ParentID, access.RoleAdmin) {
			return
		}
	} else {
		// New roots are a bootstrap operation, allowed only on an empty tree;
		// afterwards the forest grows through seeded roots.
		tree, err := a.nodes.Snapshot(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if tree.Len() > 0 {
			writeError(w, r, http.StatusForbidden, "root creation requires an empty hierarchy")
			return
		}
	}

	node, err := a.nodes.CreateNode(r.Context(), req.ParentID, req.Segment, req.Name, req.Metadata)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "hierarchy.node.create", map[string]any{
		"node_id":   node.ID,
		"parent_id": req.ParentID,
		"path":      node.Path.String(),
	})
	w.Header().Set("Location", "/v1/nodes/"+node.ID)
	writeJSON(w, http.StatusCreated, node)
}

func (a *API) getNode(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	if !a.requireRole(w, r, actor, id, access.RoleRead) {
		return
	}
	node, err := a.nodes.Node(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *API) listChildren(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	if !a.requireRole(w, r, actor, id, access.RoleRead) {
		return
	}
	tree, err := a.nodes.Snapshot(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	node, err := tree.Node(id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	children := tree.Children(node)
	if children == nil {
		children = []*hierarchy.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": children,
	})
}

func (a *API) moveNode(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req moveNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.NewParentID = strings.TrimSpace(req.NewParentID)
	if req.NewParentID == "" {
		writeError(w, r, http.StatusBadRequest, "new_parent_id is required")
		return
	}
	// Moving rewrites visibility for the whole subtree, so the actor must
	// administer both ends.
	if !a.requireRole(w, r, actor, id, access.RoleAdmin) {
		return
	}
	if !a.requireRole(w, r, actor, req.NewParentID, access.RoleAdmin) {
		return
	}

	if err := a.nodes.MoveNode(r.Context(), id, req.NewParentID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "hierarchy.node.move", map[string]any{
		"node_id":       id,
		"new_parent_id": req.NewParentID,
	})
	a.publish(stream.Event{Kind: stream.KindNodeMoved, HierarchyID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateNode(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := requester(w, r)
	if !ok {
		return
	}
	var req updateNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	node, err := a.nodes.Node(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	// An inactive node cannot be resolved against, so re-activation is
	// authorized through its parent.
	anchor := id
	if !node.IsActive {
		if node.ParentID == "" {
			writeError(w, r, http.StatusForbidden, "root nodes are re-activated out of band")
			return
		}
		anchor = node.ParentID
	}
	if !a.requireRole(w, r, actor, anchor, access.RoleAdmin) {
		return
	}

	if err := a.nodes.SetNodeActive(r.Context(), id, *req.IsActive); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r, "hierarchy.node.set_active", map[string]any{
		"node_id": id,
		"active":  *req.IsActive,
	})
	a.publish(stream.Event{Kind: stream.KindNodeStatus, HierarchyID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) publish(evt stream.Event) {
	if a.events != nil {
		a.events.Publish(evt)
	}
}
