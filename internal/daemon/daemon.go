package daemon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmdesk/vmdesk/internal/catalog"
	"github.com/vmdesk/vmdesk/internal/config"
	"github.com/vmdesk/vmdesk/internal/db"
	"github.com/vmdesk/vmdesk/internal/secrets"
	"github.com/vmdesk/vmdesk/internal/virt"
)

const (
	shutdownTimeout = 5 * time.Second
	socketPerms     = 0o660
	runDirPerms     = 0o750
	dataDirPerms    = 0o750
)

// Service wires the control socket and the optional metrics listener.
type Service struct {
	cfg             config.Config
	store           *db.Store
	snapshot        *catalog.Snapshot
	manager         *SessionManager
	dispatcher      *Dispatcher
	unixListener    net.Listener
	metricsListener net.Listener
	unixServer      *http.Server
	metricsServer   *http.Server
	logger          *log.Logger
}

// Run loads the catalog, opens the store, and serves until ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	snapshot, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return err
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	service, err := NewService(cfg, snapshot, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	logger.Printf("vmdeskd: loaded catalog from %s (%d clusters, %d templates)",
		cfg.CatalogDir, len(snapshot.Clusters()), len(snapshot.Templates()))
	return service.Serve(ctx)
}

// NewService constructs a service with bound listeners.
func NewService(cfg config.Config, snapshot *catalog.Snapshot, store *db.Store, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := ensureDir(cfg.RunDir, runDirPerms); err != nil {
		return nil, err
	}
	if err := ensureDir(cfg.DataDir, dataDirPerms); err != nil {
		return nil, err
	}
	unixListener, err := listenUnix(cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	var metrics *Metrics
	var metricsListener net.Listener
	if strings.TrimSpace(cfg.MetricsListen) != "" {
		metricsListener, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = unixListener.Close()
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsListen, err)
		}
		metrics = NewMetrics()
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		if metricsListener != nil {
			_ = metricsListener.Close()
		}
		_ = unixListener.Close()
		return nil, err
	}
	sealer, err := buildSealer(cfg)
	if err != nil {
		if metricsListener != nil {
			_ = metricsListener.Close()
		}
		_ = unixListener.Close()
		return nil, err
	}
	if !sealer.Enabled() {
		logger.Printf("vmdeskd: credential sealing disabled; submissions with passwords will be refused")
	}

	dispatcher := NewDispatcher(store, backend, logger).
		WithTimeout(time.Duration(cfg.Backend.TimeoutSeconds) * time.Second).
		WithMetrics(metrics)
	manager := NewSessionManager(store, snapshot, logger).
		WithDispatcher(dispatcher).
		WithSealer(sealer).
		WithMetrics(metrics)

	localMux := http.NewServeMux()
	localMux.HandleFunc("/healthz", healthHandler)
	localMux.HandleFunc("/v1/healthz", healthHandler)
	NewControlAPI(store, manager, snapshot, logger).
		WithBackendKind(cfg.Backend.Kind).
		WithMetrics(metrics).
		WithMetricsEnabled(metricsListener != nil).
		Register(localMux)

	unixServer := &http.Server{
		Handler:           localMux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var metricsServer *http.Server
	if metricsListener != nil {
		metricsMux := http.NewServeMux()
		metricsMux.HandleFunc("/healthz", healthHandler)
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
	}

	return &Service{
		cfg:             cfg,
		store:           store,
		snapshot:        snapshot,
		manager:         manager,
		dispatcher:      dispatcher,
		unixListener:    unixListener,
		metricsListener: metricsListener,
		unixServer:      unixServer,
		metricsServer:   metricsServer,
		logger:          logger,
	}, nil
}

// Serve blocks until shutdown or a listener error occurs.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Printf("vmdeskd: listening on unix=%s", s.cfg.SocketPath)
	if s.metricsListener != nil {
		s.logger.Printf("vmdeskd: listening on metrics=%s", s.cfg.MetricsListen)
	}
	if err := s.store.RecordEvent(ctx, EventDaemonStarted, "", "", "backend "+s.cfg.Backend.Kind); err != nil {
		s.logger.Printf("vmdeskd: record event %s: %v", EventDaemonStarted, err)
	}

	servers := 1
	errCh := make(chan error, 2)
	go func() { errCh <- s.unixServer.Serve(s.unixListener) }()
	if s.metricsServer != nil {
		servers = 2
		go func() { errCh <- s.metricsServer.Serve(s.metricsListener) }()
	}

	remaining := servers
	var serveErr error

	select {
	case <-ctx.Done():
		// graceful shutdown
	case err := <-errCh:
		remaining = servers - 1
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.shutdown()
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}

	_ = os.Remove(s.cfg.SocketPath)
	return serveErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.unixServer.Shutdown(ctx)
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	// Let in-flight creates record their outcome before the store closes.
	s.dispatcher.Wait()
	if s.store != nil {
		_ = s.store.Close()
	}
}

// buildBackend selects the VM-creation backend from configuration.
func buildBackend(cfg config.Config) (virt.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendFake:
		return virt.NewFakeBackend(), nil
	case config.BackendAPI:
		token, err := readTokenFile(cfg.Backend.TokenFile)
		if err != nil {
			return nil, err
		}
		backend := virt.NewAPIBackend(cfg.Backend.URL, token)
		if cfg.Backend.TimeoutSeconds > 0 {
			backend.CommandTimeout = time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

func buildSealer(cfg config.Config) (*secrets.Sealer, error) {
	path := strings.TrimSpace(cfg.SecretsPassphraseFile)
	if path == "" {
		return secrets.NewSealer(""), nil
	}
	if err := config.CheckSecretFilePermissions(path); err != nil {
		return nil, err
	}
	return secrets.NewSealerFromFile(path)
}

// readTokenFile reads an API token from the first non-empty, non-comment
// line of an owner-only file.
func readTokenFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("backend.token_file is required for the api backend")
	}
	if err := config.CheckSecretFilePermissions(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token %s: %w", path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read token %s: %w", path, err)
	}
	return "", fmt.Errorf("token file %s is empty", path)
}

func ensureDir(path string, perms os.FileMode) error {
	if path == "" {
		return errors.New("directory path is required")
	}
	if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

func listenUnix(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		return nil, errors.New("socket_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), runDirPerms); err != nil {
		return nil, fmt.Errorf("create socket dir %s: %w", filepath.Dir(socketPath), err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketPerms); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket %s: %w", socketPath, err)
	}
	return listener, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
