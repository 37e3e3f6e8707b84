// Package server exposes the HTTP API: workflow registration, event
// intake, and run inspection.
package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conveyci/convey/pkg/dispatch"
	"github.com/conveyci/convey/pkg/models"
	"github.com/conveyci/convey/pkg/observability"
	"github.com/conveyci/convey/pkg/store"
	"github.com/conveyci/convey/pkg/workflow"
)

type Server struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	metrics    *observability.MetricsRegistry
	log        *slog.Logger
}

func New(st store.Store, d *dispatch.Dispatcher, metrics *observability.MetricsRegistry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:      st,
		dispatcher: d,
		metrics:    metrics,
		log:        log.With("component", "server"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/metrics", s.metricsSnapshot)

	api := r.Group("/api/v1")
	{
		api.POST("/workflows", s.putWorkflow)
		api.GET("/workflows", s.listWorkflows)
		api.GET("/workflows/:name", s.getWorkflow)
		api.DELETE("/workflows/:name", s.deleteWorkflow)

		api.POST("/events", s.postEvent)

		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/runs/:id/logs", s.getRunLogs)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.SnapshotAll())
}

// putWorkflow accepts a YAML workflow declaration in the request body,
// validates it, and upserts it by name.
func (s *Server) putWorkflow(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}

	wf, err := workflow.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if wf.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow name is required"})
		return
	}

	if err := s.store.PutWorkflow(wf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("workflow registered", "workflow", wf.Name)
	c.JSON(http.StatusCreated, wf)
}

func (s *Server) listWorkflows(c *gin.Context) {
	workflows, err := s.store.ListWorkflows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.store.GetWorkflow(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	if err := s.store.DeleteWorkflow(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// postEvent accepts a repository event and returns the runs it queued.
func (s *Server) postEvent(c *gin.Context) {
	var ev models.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.Type != models.EventPush && ev.Type != models.EventPullRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported event type"})
		return
	}

	runs, err := s.dispatcher.Dispatch(c.Request.Context(), ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "runs": runs})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runs": runs})
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Query("workflow"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getRunLogs(c *gin.Context) {
	if _, err := s.store.GetRun(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logs, err := s.store.GetRunLogs(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
