package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"pvimport/config"
	"pvimport/internal/ca"
	"pvimport/internal/db"
	"pvimport/internal/engine"
	"pvimport/internal/feeds"
	"pvimport/internal/health"
	"pvimport/internal/logs"
	"pvimport/internal/metrics"
	"pvimport/internal/middleware"
	"pvimport/internal/pvcache"
	"pvimport/internal/pvconfig"
	"pvimport/internal/repo"
)

// App wires the engine together: settings → logs → database session →
// channel access → cache → records + validation → scheduler, plus the
// optional status HTTP server.
type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	gdb     *gorm.DB
	session *db.Session
	client  *ca.Client
	cache   *pvcache.Cache
	store   *pvconfig.Store
	engine  *engine.Engine

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	// 1) Logs
	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})

	// 2) Database session. The initial handle may fail to open; the
	// session's reconnect ladder takes it from there.
	gdb, err := db.Open(cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	a.gdb = gdb
	a.session = db.NewSession(cfg.DB.Driver, cfg.DB.DSN(), db.WithInitial(gdb))
	dataAccess := repo.New(a.session)

	// 3) Channel access transport: the address list is configured on
	// the client before anything subscribes.
	a.client = ca.NewClient(cfg.CA.AddressList, cfg.CA.Timeout())
	a.cache = pvcache.New(a.client)

	// 4) Records + external feeds
	store, err := pvconfig.Load(cfg.Loop.RecordsFile)
	if err != nil {
		return err
	}
	a.store = store

	feedList := []feeds.Feed{feeds.NewMercury(a.client.Get)}

	// 5) Pre-flight validation; the engine must not start otherwise.
	feedOwned := map[string]bool{}
	subscriptions := []string{}
	for _, f := range feedList {
		chans, err := f.FullChannelList()
		if err != nil {
			logs.Logger.WithError(err).Warnf("feed %s discovery failed at startup", f.Name())
			continue
		}
		for _, ch := range chans {
			feedOwned[ch] = true
			subscriptions = append(subscriptions, ch)
		}
	}
	validator := &pvconfig.Validator{
		Objects:      dataAccess,
		Probe:        a.client.Probe,
		ProbeTimeout: cfg.CA.Timeout(),
		FullName:     cfg.CA.FullName,
	}
	if err := validator.Validate(context.Background(), store.Entries(), feedOwned); err != nil {
		return err
	}

	// 6) Subscriptions: every record channel plus the feed inventory.
	for _, e := range store.Entries() {
		for _, short := range e.ChannelNames() {
			subscriptions = append(subscriptions, cfg.CA.FullName(short))
		}
	}
	a.cache.Start(subscriptions)

	// 7) Engine + metrics
	m := metrics.New(a.cache.Len)
	a.session.OnReconnectAttempt = m.ReconnectAttempts.Inc
	a.engine = engine.New(cfg, dataAccess, a.cache, store, feedList, m)

	// 8) Status router
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)
	health.RegisterRoutesWithDB(a.Router, a.gdb)
	a.Router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	return nil
}

// Run starts the status server and the import loop and blocks until a
// signal arrives or the database is terminally lost.
func (a *App) Run() error {
	if a.engine == nil {
		return ErrNotInitialized
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	if bind := a.cfg.HTTP.Listen; bind != "" {
		a.httpServer = &http.Server{
			Addr:         bind,
			Handler:      a.Router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logs.Logger.Infof("status server listening on %s", bind)
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Logger.Errorf("status server: %v", err)
			}
		}()
	}

	err := a.engine.Run(a.ctx)

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpServer.Shutdown(ctx)
	}
	a.client.Close()
	return err
}

var ErrNotInitialized = &initError{"engine not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
