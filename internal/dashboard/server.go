package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/internal/worker"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/ginx"
	"wsa/simfeed/pkg/logger"
)

// Registry 看板查找
type Registry interface {
	Dashboards() []*worker.Dashboard
	Dashboard(name string) (*worker.Dashboard, error)
}

// CreateAlertRequest 手动创建告警
type CreateAlertRequest struct {
	Severity    string `json:"severity" binding:"required,oneof=low medium warning critical"`
	Type        string `json:"type" binding:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location" binding:"required"`
	CameraID    string `json:"camera_id"`
	AssignedTo  string `json:"assigned_to"`
}

// AlertActionRequest 告警操作
type AlertActionRequest struct {
	Action string `json:"action" binding:"required,oneof=resolve investigate escalate view_details"`
}

// GlobalAlertRequest 全局告警，开启紧急模式
type GlobalAlertRequest struct {
	Type string `json:"type" binding:"required"`
}

// DashboardInfo 看板列表项
type DashboardInfo struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	LastUpdated time.Time `json:"last_updated"`
}

// AlertList 告警列表
type AlertList struct {
	Filter string                 `json:"filter"`
	Count  int                    `json:"count"`
	Items  []telemetry.AlertEvent `json:"items"`
}

// Server 看板 HTTP 服务
type Server struct {
	registry Registry
	hub      *Hub
	limiter  *RateLimiter
	engine   *gin.Engine
	logger   logger.Logger
}

// NewServer 创建 HTTP 服务，并把 websocket 推送挂到每个看板上
func NewServer(registry Registry, cfg config.ServerConfig, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	s := &Server{
		registry: registry,
		hub:      NewHub(cfg.BroadcastRate, cfg.BroadcastBurst, log),
		limiter:  NewRateLimiter(rate.Limit(10), 20),
		logger:   log,
	}
	for _, d := range registry.Dashboards() {
		d.AddSink(s.hub.Publish)
	}
	s.engine = s.setupRoutes(gatherer)
	return s
}

// Handler HTTP 入口
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub websocket 推送中心
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close 断开 websocket 并停止限流器
func (s *Server) Close() {
	s.hub.Close()
	s.limiter.Stop()
	s.logger.Infof(context.Background(), "[Server] Closed, websocket dropped messages: %d", s.hub.Dropped())
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(ErrorHandler())

	r.GET("/health", s.health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		dashboards := v1.Group("/dashboards")
		{
			dashboards.GET("", s.listDashboards)
			dashboards.GET("/:name/snapshot", s.snapshot)
			dashboards.GET("/:name/alerts", s.listAlerts)
			dashboards.POST("/:name/alerts", s.limiter.Middleware(), s.createAlert)
			dashboards.POST("/:name/alerts/:id/actions", s.limiter.Middleware(), s.alertAction)
			dashboards.POST("/:name/emergency", s.limiter.Middleware(), s.globalAlert)
			dashboards.GET("/:name/ws", s.stream)
		}
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"service":    "simfeed",
		"dashboards": len(s.registry.Dashboards()),
		"clients":    s.hub.ClientCount(),
	})
}

func (s *Server) listDashboards(c *gin.Context) {
	all := s.registry.Dashboards()
	out := make([]DashboardInfo, 0, len(all))
	for _, d := range all {
		out = append(out, DashboardInfo{
			Name:        d.Name(),
			Running:     d.Scheduler().Running(),
			LastUpdated: d.LastUpdated(),
		})
	}
	ginx.Success(c, out)
}

func (s *Server) snapshot(c *gin.Context) {
	d, err := s.registry.Dashboard(c.Param("name"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, d.Snapshot())
}

func (s *Server) listAlerts(c *gin.Context) {
	inj, err := s.alerts(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter := c.DefaultQuery("filter", "all")
	pred, err := telemetry.NamedFilter(filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	items := inj.Filter(pred).Items()
	ginx.Success(c, AlertList{Filter: filter, Count: len(items), Items: items})
}

func (s *Server) createAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}
	inj, err := s.alerts(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ev := inj.Inject(telemetry.AlertEvent{
		Severity:    telemetry.Severity(req.Severity),
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		CameraID:    req.CameraID,
		AssignedTo:  req.AssignedTo,
	})
	ginx.Created(c, ev)
}

func (s *Server) alertAction(c *gin.Context) {
	var req AlertActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}
	inj, err := s.alerts(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ev, err := inj.ApplyAction(c.Param("id"), telemetry.AlertAction(req.Action))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, ev)
}

func (s *Server) globalAlert(c *gin.Context) {
	var req GlobalAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}
	d, err := s.registry.Dashboard(c.Param("name"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := d.TriggerEmergency("global:"+req.Type, worker.GlobalEmergency); err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, d.Emergency())
}

func (s *Server) stream(c *gin.Context) {
	d, err := s.registry.Dashboard(c.Param("name"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	snap := d.Snapshot()
	s.hub.Serve(c.Writer, c.Request, d.Name(), telemetry.Event{
		Type:      telemetry.EventSnapshot,
		Dashboard: d.Name(),
		Timestamp: snap.LastUpdated,
		Payload:   snap,
	})
}

func (s *Server) alerts(c *gin.Context) (*telemetry.AlertInjector, error) {
	d, err := s.registry.Dashboard(c.Param("name"))
	if err != nil {
		return nil, err
	}
	return d.Alerts()
}
