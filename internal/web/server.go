package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmhodges/clock"

	"alarmd/internal/alarm"
	"alarmd/internal/notifier"
	"alarmd/internal/timer"
	logx "alarmd/pkg/logx"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Alarms is the scheduling surface used by the form and the API.
type Alarms interface {
	Schedule(ctx context.Context, req alarm.Request) error
	Cancel(ctx context.Context, kind alarm.Kind) error
}

// Registry exposes what the timer service currently holds.
type Registry interface {
	Registrations() []timer.Registration
}

// Notifications exposes what has been posted and takes posts down.
type Notifications interface {
	Active() []notifier.Post
	History() []notifier.Post
	Dismiss(ctx context.Context, slot int) error
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Username     string
	Password     string
	Pprof        bool
	MetricsPath  string
}

type Deps struct {
	Alarms        Alarms
	Registry      Registry
	Notifications Notifications
	Hub           *Hub
	Metrics       http.Handler
	Clock         clock.Clock
	// Location returns the calendar the form is rendered in.
	Location func() *time.Location
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	eng  *gin.Engine
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Location == nil {
		deps.Location = func() *time.Location { return time.Local }
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.eng = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.eng }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.SetHTMLTemplate(template.Must(template.New("").Funcs(template.FuncMap{
		"clock": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.In(s.deps.Location()).Format("2006-01-02 15:04")
		},
	}).ParseFS(templatesFS, "templates/*.html")))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	g := r.Group("/")
	if s.cfg.Username != "" && s.cfg.Password != "" {
		g.Use(gin.BasicAuthForRealm(gin.Accounts{s.cfg.Username: s.cfg.Password}, "alarmd"))
		s.log.Info("http basic auth enabled")
	}

	g.GET("/", s.index)
	g.POST("/alarms", s.submitForm)
	g.POST("/alarms/:kind/cancel", s.cancelForm)
	g.GET("/alarms.ics", s.calendar)
	g.POST("/notifications/:slot/dismiss", s.dismissForm)
	g.GET("/ws", gin.WrapH(s.deps.Hub))

	api := g.Group("/api")
	api.GET("/alarms", s.listAlarms)
	api.POST("/alarms", s.createAlarm)
	api.DELETE("/alarms/:kind", s.deleteAlarm)
	api.GET("/notifications", s.listNotifications)
	api.DELETE("/notifications/:slot", s.dismissNotification)

	if s.deps.Metrics != nil {
		g.GET(s.cfg.MetricsPath, gin.WrapH(s.deps.Metrics))
	}
	if s.cfg.Pprof {
		g.GET("/debug/pprof/*name", debugPprof)
		s.log.Info("pprof enabled", logx.String("path", "/debug/pprof/"))
	}
	return r
}

// debugPprof serves net/http/pprof; named profiles (heap, goroutine, ...)
// go through pprof.Index.
func debugPprof(c *gin.Context) {
	switch strings.Trim(c.Param("name"), "/") {
	case "cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "profile":
		pprof.Profile(c.Writer, c.Request)
	case "symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Index(c.Writer, c.Request)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.eng,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.deps.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		_ = srv.Close()
	}
	s.log.Info("http server stopped")
	return nil
}
