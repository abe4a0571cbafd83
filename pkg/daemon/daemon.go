package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/multimetro/mip/pkg/config"
	"github.com/multimetro/mip/pkg/events"
	"github.com/multimetro/mip/pkg/meter"
	"github.com/multimetro/mip/pkg/mipfile"
	"github.com/multimetro/mip/pkg/workflow"
)

// Server owns the daemon-side state: the workflow controller, the serial
// acquirer, the event hub and the autosave scheduler. All HTTP handlers are
// methods on it, so there is no package-level mutable state.
type Server struct {
	sessionID string
	conf      config.Config
	ctrl      *workflow.Controller
	acquirer  *meter.Acquirer
	hub       *events.Hub
	autosave  *Scheduler

	mu            sync.Mutex
	projectPath   string             // last load/save location, "" if never saved
	cancelMeasure context.CancelFunc // in-flight acquisition, nil when idle
}

func newServer(conf config.Config, acq *meter.Acquirer) *Server {
	s := &Server{
		sessionID: uuid.NewString(),
		conf:      conf,
		acquirer:  acq,
		hub:       events.NewHub(),
	}
	s.ctrl = workflow.NewController(acq)
	s.ctrl.Strict = conf.StrictCompare()
	s.ctrl.Notify = s.hub.Publish
	s.autosave = NewScheduler(s.autosaveTask, func(err error) {
		logrus.Errorf("%v", err)
	})
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", s.getStatus)
	router.GET("/state", s.getState)
	router.POST("/transition", s.postTransition)

	router.POST("/project", s.createProject)
	router.GET("/project", s.getProject)
	router.POST("/project/load", s.loadProject)
	router.POST("/project/save", s.saveProject)
	router.POST("/project/close", s.closeProject)
	router.GET("/project/info", s.getProjectInfo)
	router.GET("/project/export", s.exportProject)
	router.PUT("/project/image", s.setImage)
	router.PUT("/tolerance", s.setTolerance)

	router.GET("/points", s.listPoints)
	router.POST("/points", s.addPoint)
	router.GET("/points/:id", s.getPoint)
	router.PUT("/points/:id", s.updatePoint)
	router.DELETE("/points/:id", s.removePoint)

	router.POST("/measure/point", s.measurePoint)
	router.POST("/measure/all", s.measureAll)
	router.POST("/measure/cancel", s.cancelMeasurement)

	router.GET("/report", s.getReport)
	router.GET("/events", s.streamEvents)

	router.GET("/config", s.getConfig)
	router.PUT("/autosave-schedule", s.setAutosaveSchedule)
	router.PUT("/strict-compare", s.setStrictCompare)
	router.GET("/version", s.getVersion)

	return router
}

// autosaveTask snapshots the open project. Projects that were never saved go
// to the autosave directory under the session id, so a crash before the first
// explicit save still leaves a recoverable container behind.
func (s *Server) autosaveTask() error {
	p := s.ctrl.Project()
	if p == nil {
		return nil // nothing open, skip silently
	}

	s.mu.Lock()
	path := s.projectPath
	s.mu.Unlock()

	if path == "" {
		dir := s.conf.AutosaveDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path = filepath.Join(dir, s.sessionID+".mip")
	}

	if err := mipfile.SaveFile(p, path); err != nil {
		return err
	}
	logrus.Infof("autosaved project %q to %s", p.Name(), path)
	return nil
}

// beginMeasure registers a cancelable context for an acquisition run. Only
// one run may be in flight at a time; the controller serializes the actual
// frames anyway, but overlapping runs would make /measure/cancel ambiguous.
func (s *Server) beginMeasure(parent context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelMeasure != nil {
		return nil, nil, errors.New("a measurement is already in progress")
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancelMeasure = cancel
	done := func() {
		s.mu.Lock()
		s.cancelMeasure = nil
		s.mu.Unlock()
		cancel()
	}
	return ctx, done, nil
}

// Run starts the daemon: config, serial port, acquisition worker, HTTP API
// on a unix socket. Blocks until SIGINT/SIGTERM.
func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	acq := meter.NewAcquirer(meter.NewSerialPort(conf.Serial()), meter.Options{
		Timeout:    conf.AcquireTimeout(),
		MaxRetries: conf.MaxRetries(),
		Backoff:    conf.Backoff(),
	})
	if err := acq.Start(); err != nil {
		logrus.Fatalf("failed to open serial device %s: %v", conf.Serial().Device, err)
	}

	srv := newServer(conf, acq)
	router := srv.setupRoutes()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			if err := srv.autosave.Schedule(conf.AutosaveSchedule()); err != nil {
				logrus.Errorf("failed to apply autosave schedule: %v", err)
			}
			srv.ctrl.SetStrict(conf.StrictCompare())
			logrus.Infof("config reloaded")
		}
	}()

	httpSrv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	if expr := conf.AutosaveSchedule(); expr != "" {
		if err := srv.autosave.Schedule(expr); err != nil {
			logrus.Errorf("invalid autosave schedule %q: %v", expr, err)
		} else {
			logrus.Infof("autosave enabled: %s", expr)
		}
	}
	srv.autosave.Start()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	// Cancel any in-flight acquisition before tearing the server down.
	srv.mu.Lock()
	if srv.cancelMeasure != nil {
		srv.cancelMeasure()
	}
	srv.mu.Unlock()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = httpSrv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping autosave scheduler")
	srv.autosave.Stop()

	logrus.Info("closing serial connection")
	if err := acq.Close(); err != nil {
		logrus.Errorf("failed to close serial connection: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
