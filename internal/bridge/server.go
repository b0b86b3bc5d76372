// Package bridge is the local HTTP surface a host shell talks to: capability
// queries, permission requests, inbound action messages, sync triggers and
// read-only views of the alarm table and run log.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/actions"
	"github.com/sandeepkv93/remindd/internal/permission"
	"github.com/sandeepkv93/remindd/internal/reconcile"
	"github.com/sandeepkv93/remindd/internal/scheduler"
	"github.com/sandeepkv93/remindd/internal/storage"
)

type Capabilities interface {
	Refresh() permission.Snapshot
	RequestExactPermission() error
	RequestOverlayPermission() error
	Banner() (permission.Banner, bool)
	DismissBanner()
}

type ActionHandler interface {
	Handle(ctx context.Context, m actions.Message) (actions.Result, error)
}

type AlarmTable interface {
	Pending() []scheduler.Entry
}

type RunLog interface {
	ListRuns(ctx context.Context, filter storage.SyncRunListFilter) ([]storage.SyncRun, error)
}

// SyncFunc runs one reconciliation pass against the configured source.
type SyncFunc func(ctx context.Context) (reconcile.Report, error)

type Config struct {
	Addr         string
	Capabilities Capabilities
	Actions      ActionHandler
	Sync         SyncFunc
	Alarms       AlarmTable
	Runs         RunLog
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
}

type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type Server struct {
	cfg    Config
	engine *gin.Engine
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"status": "ok"}})
	})
	r.GET("/capabilities", s.capabilities)
	r.POST("/permissions/exact", s.requestExact)
	r.POST("/permissions/overlay", s.requestOverlay)
	r.GET("/banner", s.banner)
	r.DELETE("/banner", s.dismissBanner)
	r.POST("/actions", s.handleAction)
	r.POST("/sync", s.sync)
	r.GET("/alarms", s.alarms)
	r.GET("/runs", s.runs)
	if s.cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("bridge listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Logger.Debug("bridge request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) capabilities(c *gin.Context) {
	if s.cfg.Capabilities == nil {
		unavailable(c, "capabilities")
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.cfg.Capabilities.Refresh()})
}

func (s *Server) requestExact(c *gin.Context) {
	if s.cfg.Capabilities == nil {
		unavailable(c, "capabilities")
		return
	}
	if err := s.cfg.Capabilities.RequestExactPermission(); err != nil {
		c.JSON(http.StatusBadGateway, APIResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true})
}

func (s *Server) requestOverlay(c *gin.Context) {
	if s.cfg.Capabilities == nil {
		unavailable(c, "capabilities")
		return
	}
	if err := s.cfg.Capabilities.RequestOverlayPermission(); err != nil {
		c.JSON(http.StatusBadGateway, APIResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true})
}

func (s *Server) banner(c *gin.Context) {
	if s.cfg.Capabilities == nil {
		unavailable(c, "capabilities")
		return
	}
	b, ok := s.cfg.Capabilities.Banner()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: b})
}

func (s *Server) dismissBanner(c *gin.Context) {
	if s.cfg.Capabilities == nil {
		unavailable(c, "capabilities")
		return
	}
	s.cfg.Capabilities.DismissBanner()
	c.Status(http.StatusNoContent)
}

type promptView struct {
	ID         int32     `json:"id"`
	ReminderID int64     `json:"reminderId"`
	DueAt      time.Time `json:"dueAt"`
	TaskText   string    `json:"taskText,omitempty"`
}

type actionView struct {
	Message string      `json:"message"`
	Outcome string      `json:"outcome,omitempty"`
	Prompt  *promptView `json:"prompt,omitempty"`
}

func (s *Server) handleAction(c *gin.Context) {
	if s.cfg.Actions == nil {
		unavailable(c, "actions")
		return
	}
	var msg actions.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Error: "invalid action message: " + err.Error(), Code: string(actions.ErrCodeInvalidArgument)})
		return
	}
	res, err := s.cfg.Actions.Handle(c.Request.Context(), msg)
	if err != nil {
		var ae *actions.ActionError
		if errors.As(err, &ae) {
			status := http.StatusBadRequest
			if ae.Code == actions.ErrCodeHandlerMissing {
				status = http.StatusNotImplemented
			}
			c.JSON(status, APIResponse{Error: ae.Message, Code: string(ae.Code)})
			return
		}
		c.JSON(http.StatusBadGateway, APIResponse{Error: err.Error()})
		return
	}
	view := actionView{Message: res.Message, Outcome: string(res.Outcome)}
	if res.Prompt != nil {
		view.Prompt = &promptView{
			ID:         res.Prompt.ID,
			ReminderID: res.Prompt.ReminderID,
			DueAt:      res.Prompt.DueAt,
			TaskText:   res.Prompt.TaskText,
		}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: view})
}

func (s *Server) sync(c *gin.Context) {
	if s.cfg.Sync == nil {
		unavailable(c, "sync")
		return
	}
	report, err := s.cfg.Sync(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reconcile.ErrSourceFailed) {
			status = http.StatusBadGateway
		}
		c.JSON(status, APIResponse{Error: err.Error(), Data: report})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: report})
}

func (s *Server) alarms(c *gin.Context) {
	if s.cfg.Alarms == nil {
		unavailable(c, "alarm table")
		return
	}
	pending := s.cfg.Alarms.Pending()
	out := make([]scheduler.WireRequest, 0, len(pending))
	for _, e := range pending {
		out = append(out, scheduler.WireFromEntry(e))
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: out})
}

type runView struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	Source    string    `json:"source"`
	Total     int       `json:"total"`
	Scheduled int       `json:"scheduled"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Rearmed   int       `json:"rearmed"`
	Swept     int       `json:"swept"`
	Error     string    `json:"error,omitempty"`
}

func (s *Server) runs(c *gin.Context) {
	if s.cfg.Runs == nil {
		unavailable(c, "run log")
		return
	}
	filter := storage.SyncRunListFilter{Limit: queryInt(c, "limit", 20), Offset: queryInt(c, "offset", 0)}
	runs, err := s.cfg.Runs.ListRuns(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{Error: err.Error()})
		return
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, runView(r))
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: out})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, APIResponse{Error: what + " not configured"})
}
