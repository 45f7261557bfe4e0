package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"logalert/internal/alert"
	"logalert/internal/clock"
	"logalert/internal/config"
	"logalert/internal/indexset"
	"logalert/internal/ingest"
	"logalert/internal/logging"
	"logalert/internal/metrics"
	"logalert/internal/notify"
	"logalert/internal/publish"
	"logalert/internal/search"
	"logalert/internal/state"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert evaluation service.
type Service struct {
	mu         sync.Mutex
	source     config.ConfigSource
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	registry   indexset.Registry
	defaultSet string
	backend    *search.MemoryBackend
	router     *ingest.Router
	store      state.Store
	producer   publish.Producer
	factory    *alert.Factory
	manager    *Manager
	scheduler  *Scheduler
	httpSrv    *http.Server
	listener   net.Listener
	natsSub    interface{ Close() error }
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	service, err := newService(source, cfg, logger, clk)
	if err != nil {
		closeLog()
		return nil, err
	}
	service.closeLog = closeLog
	return service, nil
}

func newService(source config.ConfigSource, cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger = logging.Default(logger).With("service", cfg.Service.Name)
	service := &Service{
		source:     source,
		cfg:        cfg,
		logger:     logger,
		clock:      clk,
		factory:    alert.NewFactory(),
		defaultSet: cfg.DefaultIndexSet(),
	}

	registry, err := BuildRegistry(cfg.IndexSet)
	if err != nil {
		return nil, err
	}
	service.registry = registry
	backend, err := search.NewMemoryBackend(search.MemoryConfig{
		Registry: registry,
		Now:      clk.Now,
		Logger:   logger,
		OnRotate: func(set, _ string) {
			metrics.IndexRotationsTotal.WithLabelValues(set).Inc()
			if indexSet, ok := registry.Lookup(set); ok {
				metrics.IndexPartitions.WithLabelValues(set).Set(float64(len(indexSet.Partitions())))
			}
		},
	})
	if err != nil {
		return nil, err
	}
	service.backend = backend
	if err := setUpIndexSets(registry, backend); err != nil {
		return nil, err
	}
	router, err := ingest.NewRouter(ingest.RouterConfig{
		Registry:   registry,
		DefaultSet: service.defaultSet,
		Appender:   backend,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	service.router = router

	entries, err := BuildEntries(cfg, service.conditionDeps(cfg), service.factory)
	if err != nil {
		return nil, err
	}

	if err := service.buildStore(); err != nil {
		return nil, err
	}
	if err := service.buildProducer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	service.manager = NewManager(ManagerOptions{
		Logger:        logger,
		Store:         service.store,
		Notifier:      notify.NewDispatcher(cfg.Notify, logger),
		Producer:      service.producer,
		Clock:         clk,
		CheckTimeout:  cfg.Service.CheckTimeout(),
		MaxConcurrent: cfg.Service.MaxConcurrentChecks,
	})
	service.manager.ApplyConditions(context.Background(), entries)

	scheduler, err := NewScheduler(cfg.Service.CheckInterval(), service.runScheduledCheck, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := scheduler.Sync(service.manager.ConditionIDs(), cfg.Service.CheckInterval()); err != nil {
		_ = scheduler.Stop()
		service.cleanupInitResources()
		return nil, err
	}
	service.scheduler = scheduler

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg := s.Config()

	listener, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("http listen %s: %w", cfg.HTTP.Listen, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", listener.Addr().String())
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.scheduler.Start()
	s.logger.Info("service started", "mode", cfg.Service.Mode, "conditions", len(s.manager.ConditionIDs()))

	if cfg.Service.ReloadEnabled {
		go s.reloadLoop(runCtx, time.Duration(cfg.Service.ReloadIntervalSec)*time.Second)
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// Addr returns bound HTTP address once Run started listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Config returns the active config snapshot.
func (s *Service) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Manager exposes the evaluation driver.
func (s *Service) Manager() *Manager { return s.manager }

// Ready reports whether service finished startup.
func (s *Service) Ready() bool { return s.readyFlag.Load() }

func (s *Service) reloadLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reloadConfig(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("reload failed", "error", err.Error())
			}
		}
	}
}

func (s *Service) runScheduledCheck(ctx context.Context, conditionID string) {
	if _, err := s.manager.Evaluate(ctx, conditionID); err != nil && !errors.Is(err, ErrUnknownCondition) {
		s.logger.Error("scheduled check failed", "condition_id", conditionID, "error", err.Error())
	}
}

func (s *Service) conditionDeps(cfg config.Config) alert.Deps {
	return alert.Deps{
		Searcher:      s.backend,
		CheckInterval: cfg.Service.CheckInterval(),
		Clock:         s.clock,
		Logger:        s.logger,
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.scheduler.Stop(); err != nil {
		s.logger.Error("scheduler stop failed", "error", err.Error())
		markErr(fmt.Errorf("scheduler stop: %w", err))
	}
	if err := s.producer.Close(); err != nil {
		s.logger.Error("verdict producer close failed", "error", err.Error())
		markErr(fmt.Errorf("verdict producer close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.scheduler != nil {
		_ = s.scheduler.Stop()
		s.scheduler = nil
	}
	if s.producer != nil {
		_ = s.producer.Close()
		s.producer = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

// buildHTTPServer wires health, metrics, ingest, and rotation endpoints.
// Params: none.
// Returns: none.
func (s *Service) buildHTTPServer() {
	httpCfg := s.cfg.HTTP
	mux := http.NewServeMux()
	mux.HandleFunc(httpCfg.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(httpCfg.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() || !s.registry.IsUp() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(httpCfg.MetricsPath, metrics.Handler())
	if httpCfg.Ingest {
		mux.Handle(httpCfg.IngestPath, ingest.NewHTTPHandler(s.router, httpCfg.MaxBodyBytes))
	}
	mux.HandleFunc(httpCfg.CyclePath, s.handleCycle)

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// setUpIndexSets opens the first partition of every set without a write target.
// Params: registry and backend owning partitions.
// Returns: ErrTooManyAliases or cycle error.
func setUpIndexSets(registry indexset.Registry, backend *search.MemoryBackend) error {
	for _, set := range registry.IndexSets() {
		target, err := set.CurrentWriteTarget()
		if err != nil {
			return fmt.Errorf("index_set.%s: %w", set.Name(), err)
		}
		if target != "" {
			continue
		}
		if _, err := backend.Cycle(set); err != nil {
			return err
		}
	}
	return nil
}

// handleCycle rotates one index set on explicit request.
// Params: POST with optional index_set query parameter (default set when absent).
// Returns: JSON with new write target; 404 unknown set, 409 ambiguous alias.
func (s *Service) handleCycle(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSpace(request.URL.Query().Get("index_set"))
	if name == "" {
		name = s.defaultSet
	}
	set, ok := s.registry.Lookup(name)
	if !ok {
		http.Error(writer, fmt.Sprintf("unknown index set %q", name), http.StatusNotFound)
		return
	}
	target, err := s.backend.Cycle(set)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, indexset.ErrTooManyAliases) {
			status = http.StatusConflict
		}
		http.Error(writer, err.Error(), status)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(map[string]any{
		"index_set":  set.Name(),
		"target":     target,
		"partitions": set.Partitions(),
	})
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) || !s.cfg.NATS.Ingest.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.NATS, s.router, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates condition-state backend from config.
func (s *Service) buildStore() error {
	if isSingleMode(s.cfg) {
		s.store = state.NewMemoryStore()
		return nil
	}
	store, err := state.NewNATSStore(s.cfg.NATS)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// buildProducer creates verdict publisher from config.
func (s *Service) buildProducer() error {
	if isSingleMode(s.cfg) || !s.cfg.NATS.Verdicts.Enabled {
		s.producer = publish.Nop{}
		return nil
	}
	producer, err := publish.NewNATSProducer(s.cfg.NATS, s.cfg.Service.Name)
	if err != nil {
		return err
	}
	s.producer = producer
	return nil
}

// reloadConfig atomically reloads and applies new config snapshot.
// Params: context for cleanup operations.
// Returns: reload or apply error; runtime keeps previous snapshot on error.
func (s *Service) reloadConfig(ctx context.Context) error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	if err := restartRequired(s.Config(), nextCfg); err != nil {
		return err
	}
	entries, err := BuildEntries(nextCfg, s.conditionDeps(nextCfg), s.factory)
	if err != nil {
		return err
	}

	removed := s.manager.ApplyConditions(ctx, entries)
	s.manager.SetNotifier(notify.NewDispatcher(nextCfg.Notify, s.logger))
	if err := s.scheduler.Sync(s.manager.ConditionIDs(), nextCfg.Service.CheckInterval()); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = nextCfg
	s.mu.Unlock()
	s.logger.Info("configuration reloaded", "conditions", len(entries), "removed", len(removed))
	return nil
}

// restartRequired rejects reloads touching process-level resources.
func restartRequired(current, next config.Config) error {
	if isSingleMode(current) != isSingleMode(next) {
		return errors.New("service.mode change requires restart")
	}
	if !slices.Equal(current.IndexSet, next.IndexSet) {
		return errors.New("index_set change requires restart")
	}
	if current.HTTP != next.HTTP {
		return errors.New("http change requires restart")
	}
	if !slices.Equal(current.NATS.URL, next.NATS.URL) || current.NATS.Ingest != next.NATS.Ingest || current.NATS.Verdicts != next.NATS.Verdicts {
		return errors.New("nats change requires restart")
	}
	return nil
}

// Validate checks config snapshot including type-specific condition parameters.
// Params: loaded config.
// Returns: first validation error.
func Validate(cfg config.Config) error {
	registry, err := BuildRegistry(cfg.IndexSet)
	if err != nil {
		return err
	}
	backend, err := search.NewMemoryBackend(search.MemoryConfig{Registry: registry, Logger: logging.Discard()})
	if err != nil {
		return err
	}
	_, err = BuildEntries(cfg, alert.Deps{
		Searcher:      backend,
		CheckInterval: cfg.Service.CheckInterval(),
		Clock:         clock.RealClock{},
		Logger:        logging.Discard(),
	}, alert.NewFactory())
	return err
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
