package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/pipelaunch/internal/metrics"
	"github.com/loykin/pipelaunch/internal/process"
)

// StatusSource is what the router reports on; *orchestrator.Orchestrator
// satisfies it.
type StatusSource interface {
	RunID() string
	Statuses() []process.Status
}

// ResourceSource serves sampled process resources; *metrics.ResourceSampler
// satisfies it.
type ResourceSource interface {
	Latest(name string) (metrics.Sample, bool)
	History(name string) []metrics.Sample
	All() map[string]metrics.Sample
}

// Router provides read-only HTTP handlers over a running pipeline.
// Endpoints:
//
//	GET {basePath}/status              all processes, or ?name=... for one
//	GET {basePath}/healthz             503 once any process has exited
//	GET {basePath}/metrics             prometheus exposition
//	GET {basePath}/resources           latest samples, ?name=... for history
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src       StatusSource
	resources ResourceSource
	metrics   http.Handler
	basePath  string
}

type RouterOption func(*Router)

// WithResources enables the /resources endpoint.
func WithResources(rs ResourceSource) RouterOption {
	return func(r *Router) { r.resources = rs }
}

// WithMetricsHandler replaces the default promhttp handler.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(r *Router) { r.metrics = h }
}

func NewRouter(src StatusSource, basePath string, opts ...RouterOption) *Router {
	r := &Router{src: src, basePath: sanitizeBase(basePath), metrics: metrics.Handler()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(r.metrics))
	if r.resources != nil {
		group.GET("/resources", r.handleResources)
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	RunID     string           `json:"run_id"`
	Processes []process.Status `json:"processes"`
}

type healthResp struct {
	Status string   `json:"status"`
	Exited []string `json:"exited,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	sts := r.src.Statuses()
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, statusResp{RunID: r.src.RunID(), Processes: sts})
		return
	}
	if !process.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
		return
	}
	for _, st := range sts {
		if st.Name == name {
			writeJSON(c, http.StatusOK, st)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "process not found: " + name})
}

func (r *Router) handleHealth(c *gin.Context) {
	var exited []string
	for _, st := range r.src.Statuses() {
		if st.Phase == process.Exited {
			exited = append(exited, st.Name)
		}
	}
	if len(exited) > 0 {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{Status: "degraded", Exited: exited})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{Status: "ok"})
}

func (r *Router) handleResources(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.resources.All())
		return
	}
	if _, ok := r.resources.Latest(name); !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no samples for " + name})
		return
	}
	writeJSON(c, http.StatusOK, r.resources.History(name))
}
