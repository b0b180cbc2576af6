package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"strata.org/api/spec"
	"strata.org/internal/access"
	"strata.org/internal/directory"
	"strata.org/internal/hierarchy"
	"strata.org/internal/obs"
	"strata.org/internal/stream"
)

const serviceName = "strata-api"

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// NodeStore covers the hierarchy operations the API mutates through. Both the
// pg store and the in-memory store satisfy it.
type NodeStore interface {
	access.TreeSource
	Node(ctx context.Context, id string) (*hierarchy.Node, error)
	CreateNode(ctx context.Context, parentID, segment, name string, metadata map[string]string) (*hierarchy.Node, error)
	MoveNode(ctx context.Context, nodeID, newParentID string) error
	SetNodeActive(ctx context.Context, nodeID string, active bool) error
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	nodes  NodeStore
	access *access.Service
	users  *directory.Service
	events *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, nodes NodeStore, accessSvc *access.Service, users *directory.Service, events *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		nodes:      nodes,
		access:     accessSvc,
		users:      users,
		events:     events,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/nodes", a.handleNodesCollection)
	a.mux.HandleFunc("/v1/nodes/", a.handleNodeResource)

	a.mux.HandleFunc("/v1/grants", a.handleGrantsCollection)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)

	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/v1/access/resolve", a.handleResolve)
	a.mux.HandleFunc("/v1/access/scope", a.handleScope)
	a.mux.HandleFunc("/v1/access/filter", a.handleFilter)

	a.mux.HandleFunc("/v1/events", a.StreamEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.withAuth(a.mux))
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
