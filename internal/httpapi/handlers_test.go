package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"strata.org/internal/access"
	"strata.org/internal/auth"
	"strata.org/internal/directory"
	"strata.org/internal/hierarchy"
	"strata.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	adminEmail    string
	adminPassword string
	adminID       string
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("STRATA_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	nodes, err := hierarchy.NewMemoryStore([]*hierarchy.Node{
		{ID: "au", Name: "Australia", Path: hierarchy.Path{"australia"}, IsActive: true},
		{ID: "syd", ParentID: "au", Name: "Sydney", Path: hierarchy.Path{"australia", "sydney"}, IsActive: true},
		{ID: "bondi", ParentID: "syd", Name: "Bondi", Path: hierarchy.Path{"australia", "sydney", "bondi"}, IsActive: true},
		{ID: "manly", ParentID: "syd", Name: "Manly", Path: hierarchy.Path{"australia", "sydney", "manly"}, IsActive: true},
	})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	grants := access.NewInMemoryGrants()
	accessSvc, err := access.NewService(nodes, grants)
	if err != nil {
		t.Fatalf("access.NewService: %v", err)
	}
	users, err := directory.NewService(directory.NewInMemory(nodes))
	if err != nil {
		t.Fatalf("directory.NewService: %v", err)
	}

	// Bootstrap operator: account plus root admin grant seeded directly.
	admin, err := users.Create(context.Background(), "root@example.com", "s3cret", "au")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	err = grants.Create(context.Background(), &access.Grant{
		ID:                   "grt_root",
		UserID:               admin.ID,
		HierarchyID:          "au",
		Role:                 access.RoleAdmin,
		InheritToDescendants: true,
		GrantedBy:            admin.ID,
		GrantedAt:            time.Now().UTC().Add(-time.Hour),
		IsActive:             true,
	})
	if err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	api := New(ReadyProbe{}, "test", nodes, accessSvc, users, stream.New())
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:       srv.URL,
		client:        srv.Client(),
		t:             t,
		adminEmail:    "root@example.com",
		adminPassword: "s3cret",
		adminID:       admin.ID,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(email, password string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIGrantLifecycleFlow(t *testing.T) {
	api := newTestAPI(t)
	adminAuth := bearerHeader(api.obtainToken(api.adminEmail, api.adminPassword))

	// Admin registers a worker anchored at Sydney.
	resp := api.post("/v1/users", map[string]any{
		"email":        "worker@example.com",
		"password":     "hunter2",
		"hierarchy_id": "syd",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user status: %d", resp.StatusCode)
	}
	worker := decode[map[string]any](t, resp)
	workerID := worker["id"].(string)

	// Worker has no grants yet: resolving Sydney is denied, not an error.
	workerAuth := bearerHeader(api.obtainToken("worker@example.com", "hunter2"))
	resp = api.post("/v1/access/resolve", map[string]any{"node_id": "syd"}, workerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status: %d", resp.StatusCode)
	}
	verdict := decode[map[string]any](t, resp)
	if verdict["allowed"].(bool) {
		t.Fatal("worker without grants must be denied")
	}
	if verdict["reason"] != "no_grant" {
		t.Fatalf("unexpected deny reason: %v", verdict["reason"])
	}

	// Admin issues an inheritable manager grant on Sydney.
	resp = api.post("/v1/grants", map[string]any{
		"user_id":                workerID,
		"hierarchy_id":           "syd",
		"role":                   "manager",
		"inherit_to_descendants": true,
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue grant status: %d", resp.StatusCode)
	}
	grant := decode[map[string]any](t, resp)
	grantID := grant["id"].(string)

	// The grant flows down to Bondi as inherited manager access.
	resp = api.post("/v1/access/resolve", map[string]any{"node_id": "bondi"}, workerAuth)
	verdict = decode[map[string]any](t, resp)
	if !verdict["allowed"].(bool) || verdict["effective_role"] != "manager" || verdict["access_level"] != "inherited" {
		t.Fatalf("unexpected verdict: %v", verdict)
	}

	// No upward flow: Australia stays out of reach.
	resp = api.post("/v1/access/resolve", map[string]any{"node_id": "au"}, workerAuth)
	verdict = decode[map[string]any](t, resp)
	if verdict["allowed"].(bool) {
		t.Fatal("access must not flow upward")
	}

	// Scope lists the Sydney subtree.
	resp = api.get("/v1/access/scope", nil, workerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scope status: %d", resp.StatusCode)
	}
	scope := decode[scopeResponse](t, resp)
	if scope.Total != 3 {
		t.Fatalf("expected 3 reachable nodes, got %d: %+v", scope.Total, scope.Items)
	}

	// The covering filter collapses to the single Sydney prefix.
	resp = api.get("/v1/access/filter", nil, workerAuth)
	filter := decode[map[string]any](t, resp)
	if int(filter["total"].(float64)) != 1 {
		t.Fatalf("expected single filter entry: %v", filter)
	}

	// Revoking the grant removes access immediately.
	resp = api.do(http.MethodDelete, "/v1/grants/"+grantID, nil, adminAuth)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/access/resolve", map[string]any{"node_id": "syd"}, workerAuth)
	verdict = decode[map[string]any](t, resp)
	if verdict["allowed"].(bool) {
		t.Fatal("revoked grant still grants access")
	}
}

func TestAPIGrantIssueRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	adminAuth := bearerHeader(api.obtainToken(api.adminEmail, api.adminPassword))

	resp := api.post("/v1/users", map[string]any{
		"email":        "mgr@example.com",
		"password":     "hunter2",
		"hierarchy_id": "syd",
	}, adminAuth)
	mgr := decode[map[string]any](t, resp)
	mgrID := mgr["id"].(string)

	resp = api.post("/v1/grants", map[string]any{
		"user_id":                mgrID,
		"hierarchy_id":           "syd",
		"role":                   "manager",
		"inherit_to_descendants": true,
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue grant status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// A manager cannot hand out grants.
	mgrAuth := bearerHeader(api.obtainToken("mgr@example.com", "hunter2"))
	resp = api.post("/v1/grants", map[string]any{
		"user_id":      mgrID,
		"hierarchy_id": "bondi",
		"role":         "read",
	}, mgrAuth)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAPINodeMoveAndChildren(t *testing.T) {
	api := newTestAPI(t)
	adminAuth := bearerHeader(api.obtainToken(api.adminEmail, api.adminPassword))

	// Create Melbourne under Australia.
	resp := api.post("/v1/nodes", map[string]any{
		"parent_id": "au",
		"segment":   "melbourne",
		"name":      "Melbourne",
	}, adminAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create node status: %d", resp.StatusCode)
	}
	mel := decode[map[string]any](t, resp)
	melID := mel["id"].(string)
	if mel["path"].(string) != "australia.melbourne" {
		t.Fatalf("unexpected path: %v", mel["path"])
	}

	// Move Bondi under Melbourne; subtree path rewrites.
	resp = api.post("/v1/nodes/bondi/move", map[string]any{"new_parent_id": melID}, adminAuth)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("move status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/nodes/bondi", nil, adminAuth)
	node := decode[map[string]any](t, resp)
	if node["path"].(string) != "australia.melbourne.bondi" {
		t.Fatalf("path not rewritten: %v", node["path"])
	}

	// Moving Sydney under its own descendant is rejected.
	resp = api.post("/v1/nodes/au/move", map[string]any{"new_parent_id": "syd"}, adminAuth)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for cycle, got %d", resp.StatusCode)
	}

	resp2 := api.get("/v1/nodes/"+melID+"/children", nil, adminAuth)
	children := decode[map[string]any](t, resp2)
	if len(children["items"].([]any)) != 1 {
		t.Fatalf("unexpected children: %v", children["items"])
	}
}

func TestAPIVisibleUsers(t *testing.T) {
	api := newTestAPI(t)
	adminAuth := bearerHeader(api.obtainToken(api.adminEmail, api.adminPassword))

	for _, u := range []struct{ email, node string }{
		{"syd@example.com", "syd"},
		{"bondi@example.com", "bondi"},
	} {
		resp := api.post("/v1/users", map[string]any{
			"email":        u.email,
			"password":     "hunter2",
			"hierarchy_id": u.node,
		}, adminAuth)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %d", u.email, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Grant the Sydney user visibility over their subtree only.
	resp := api.get("/v1/users", nil, adminAuth)
	listing := decode[map[string]any](t, resp)
	if int(listing["total"].(float64)) != 3 {
		t.Fatalf("admin must see all three users: %v", listing["total"])
	}

	sydAuth := bearerHeader(api.obtainToken("syd@example.com", "hunter2"))
	resp = api.get("/v1/users", nil, sydAuth)
	listing = decode[map[string]any](t, resp)
	if int(listing["total"].(float64)) != 0 {
		t.Fatalf("user without grants must see nobody: %v", listing["total"])
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/grants", map[string]any{
		"user_id":      "usr_x",
		"hierarchy_id": "syd",
		"role":         "read",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{
		"email":    api.adminEmail,
		"password": "wrong",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != serviceName {
		t.Fatalf("unexpected service: %v", body["service"])
	}

	resp = api.get("/readyz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
}

func TestEventStreamDeliversGrantEvents(t *testing.T) {
	api := newTestAPI(t)
	adminAuth := bearerHeader(api.obtainToken(api.adminEmail, api.adminPassword))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range adminAuth {
		req.Header.Set(k, v)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	opening, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read opening frame: %v", err)
	}
	if !strings.HasPrefix(opening, ":") {
		t.Fatalf("expected comment frame, got %q", opening)
	}

	// With the subscription established, a mutation must arrive as a frame.
	issued := api.post("/v1/grants", map[string]any{
		"user_id":      api.adminID,
		"hierarchy_id": "syd",
		"role":         "read",
	}, adminAuth)
	if issued.StatusCode != http.StatusCreated {
		t.Fatalf("issue grant status: %d", issued.StatusCode)
	}
	issued.Body.Close()

	var payload string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event frame: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			payload = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}
	var evt stream.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		t.Fatalf("decode event: %v (%q)", err, payload)
	}
	if evt.Kind != stream.KindGrantIssued {
		t.Fatalf("event kind: %q", evt.Kind)
	}
	if evt.HierarchyID != "syd" {
		t.Fatalf("event hierarchy: %q", evt.HierarchyID)
	}
}
