package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/voicekey/internal/controller"
	"github.com/loykin/voicekey/internal/history"
	"github.com/loykin/voicekey/internal/metrics"
)

// Controller is the dictation surface the router drives.
type Controller interface {
	Toggle(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() controller.Snapshot
}

// HistoryReader returns recent transitions, newest first.
type HistoryReader interface {
	Recent(n int) []history.Event
}

// Router provides embeddable HTTP handlers that stand in for the control
// panel's button.
// Endpoints:
//
//	POST {basePath}/toggle
//	POST {basePath}/start
//	POST {basePath}/stop
//	GET  {basePath}/status
//	GET  {basePath}/history   query: limit=N (default 20)
//	GET  /metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	hist     HistoryReader
	basePath string
	mw       []gin.HandlerFunc
}

// NewRouter constructs a new Router. hist may be nil.
func NewRouter(ctl Controller, hist HistoryReader, basePath string) *Router {
	return &Router{ctl: ctl, hist: hist, basePath: sanitizeBase(basePath)}
}

// Use adds middleware, such as authentication, to the control endpoints.
// /metrics is not affected.
func (r *Router) Use(mw ...gin.HandlerFunc) *Router {
	r.mw = append(r.mw, mw...)
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath, r.mw...)
	group.POST("/toggle", r.action((Controller).Toggle))
	group.POST("/start", r.action((Controller).Start))
	group.POST("/stop", r.action((Controller).Stop))
	group.GET("/status", r.handleStatus)
	group.GET("/history", r.handleHistory)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The listener is bound before returning so address errors surface here.
// Transitions run in the request goroutine and can take as long as the
// stop grace period, so the write timeout leaves room for it.
func NewServer(addr, basePath string, ctl Controller, hist HistoryReader, tlsConf *tls.Config, mw ...gin.HandlerFunc) (*http.Server, error) {
	r := NewRouter(ctl, hist, basePath).Use(mw...)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsConf,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type actionResp struct {
	OK     bool   `json:"ok"`
	State  string `json:"state"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// action runs one transition. A refused transition is reported with
// ok=false; it is not a server fault.
func (r *Router) action(fn func(Controller, context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := controller.WithSource(c.Request.Context(), controller.SourceUI)
		err := fn(r.ctl, ctx)
		snap := r.ctl.Snapshot()
		resp := actionResp{OK: err == nil, State: snap.State.String(), Status: snap.Status}
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(c, http.StatusOK, resp)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Snapshot())
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history disabled"})
		return
	}
	limit, err := parseLimit(c.Query("limit"), 20)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	events := r.hist.Recent(limit)
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
