package certs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/system"
)

// CAServer is the minimal TLS file server that distributes the CA
// certificate to joining nodes. It serves exactly one file at a fixed path,
// backed by a separately provisioned transport certificate (Let's Encrypt).
type CAServer struct {
	logger     zerolog.Logger
	layout     config.Layout
	port       int
	supervisor *system.Supervisor
}

func NewCAServer(logger zerolog.Logger, layout config.Layout, port int, supervisor *system.Supervisor) *CAServer {
	return &CAServer{
		logger:     logger.With().Str("component", "ca-server").Logger(),
		layout:     layout,
		port:       port,
		supervisor: supervisor,
	}
}

// Handler serves GET /ca.crt (and /) as an octet-stream attachment.
func (s *CAServer) Handler() http.Handler {
	r := chi.NewRouter()

	serveCA := func(w http.ResponseWriter, req *http.Request) {
		caPath := PathsIn(s.layout.CertsDir()).CACert
		data, err := os.ReadFile(caPath)
		if err != nil {
			http.Error(w, "CA certificate not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/x-x509-ca-cert")
		w.Header().Set("Content-Disposition", `attachment; filename="ca.crt"`)
		w.Write(data)
	}

	r.Get("/", serveCA)
	r.Get("/ca.crt", serveCA)
	return r
}

// Run serves the CA certificate in the foreground until the context is
// cancelled or a termination signal arrives. The TLS transport certificate
// comes from the Let's Encrypt directory, never from the cluster CA itself.
func (s *CAServer) Run(ctx context.Context) error {
	caPath := PathsIn(s.layout.CertsDir()).CACert
	if !fileExists(caPath) {
		return fmt.Errorf("ca-server: %s does not exist, generate certificates first", caPath)
	}

	certFile := s.layout.LetsEncryptDir() + "/fullchain.pem"
	keyFile := s.layout.LetsEncryptDir() + "/privkey.pem"
	if !fileExists(certFile) || !fileExists(keyFile) {
		return fmt.Errorf("ca-server: transport certificate missing, run the Let's Encrypt provisioning first")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", s.port),
		Handler: s.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Int("port", s.port).Msg("serving CA certificate over TLS")
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Start launches the CA server as a detached background process by
// re-invoking this binary with "ca-server run", waits for the port to bind,
// and records the PID for a later Stop.
func (s *CAServer) Start(ctx context.Context) error {
	if inUse, pid := s.supervisor.IsPortInUse(ctx, s.port); inUse {
		s.logger.Info().Int("pid", pid).Msg("CA server already running")
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	pid, err := system.StartDetached(self, []string{"ca-server", "run"}, s.layout.CAServerLog())
	if err != nil {
		return fmt.Errorf("start CA server: %w", err)
	}

	if !s.supervisor.WaitForPort(ctx, s.port, 5, time.Second) {
		return fmt.Errorf("CA server did not bind port %d, see %s", s.port, s.layout.CAServerLog())
	}

	if err := system.WritePIDFile(s.layout.CAServerPIDFile(), pid); err != nil {
		return err
	}
	s.logger.Info().Int("pid", pid).Int("port", s.port).Msg("CA server started")
	return nil
}

// Stop terminates the background CA server via its PID file. A missing PID
// file means the server is not running; that is surfaced as ErrNotRunning,
// and the caller reports it as already stopped.
func (s *CAServer) Stop(ctx context.Context) error {
	pidFile := s.layout.CAServerPIDFile()
	pid, err := system.ReadPIDFile(pidFile)
	if err != nil {
		return err
	}

	s.logger.Info().Int("pid", pid).Msg("stopping CA server")
	if !s.supervisor.KillProcess(ctx, pid, false) {
		// The recorded process is gone; treat the stale file as stopped.
		s.logger.Warn().Int("pid", pid).Msg("CA server PID not signallable, removing stale PID file")
	}
	return system.RemovePIDFile(pidFile)
}
