package certs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/system"
)

// State is the certificate bootstrap state of this node, derived from file
// presence in the certs directory. Issuance is strictly ordered: the CA must
// exist before a node certificate, and the node certificate before the
// client certificate.
type State int

const (
	NoCerts State = iota
	HasCA
	HasNodeCert
	HasClientCert
)

func (s State) String() string {
	switch s {
	case NoCerts:
		return "no-certs"
	case HasCA:
		return "has-ca"
	case HasNodeCert:
		return "has-node-cert"
	case HasClientCert:
		return "has-client-cert"
	default:
		return "unknown"
	}
}

// InvalidStateError reports an issuance operation attempted out of order.
// No files are created when it is returned.
type InvalidStateError struct {
	Op   string
	Have State
	Need State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid certificate state %s (need %s)", e.Op, e.Have, e.Need)
}

// ErrPeerUnreachable means every configured peer failed to serve the CA.
// The caller falls back to creating a local CA.
var ErrPeerUnreachable = errors.New("no cluster peer served the CA certificate")

// Set names every file of the certificate set. The CA is owned by the
// first-initialized node; other nodes hold a fetched copy.
type Set struct {
	CACert         string
	CAKey          string
	NodeCert       string
	NodeKey        string
	ClientCert     string
	ClientKey      string
	ClientKeyPKCS8 string
}

// PathsIn returns the certificate set rooted at dir using the fixed
// CockroachDB file names.
func PathsIn(dir string) Set {
	return Set{
		CACert:         filepath.Join(dir, "ca.crt"),
		CAKey:          filepath.Join(dir, "ca.key"),
		NodeCert:       filepath.Join(dir, "node.crt"),
		NodeKey:        filepath.Join(dir, "node.key"),
		ClientCert:     filepath.Join(dir, "client.root.crt"),
		ClientKey:      filepath.Join(dir, "client.root.key"),
		ClientKeyPKCS8: filepath.Join(dir, "client.root.pk8.key"),
	}
}

// Manager drives certificate creation through the database binary's cert
// subcommands against a fixed certificate directory.
type Manager struct {
	logger   zerolog.Logger
	runner   system.Runner
	store    *config.Store
	certsDir string
	binary   string

	// client overrides the default HTTP client in tests.
	client *http.Client
	// primaryIP overrides detection in tests.
	primaryIP func() string
}

func NewManager(logger zerolog.Logger, runner system.Runner, store *config.Store, certsDir, binary string) *Manager {
	return &Manager{
		logger:    logger.With().Str("component", "certs").Logger(),
		runner:    runner,
		store:     store,
		certsDir:  certsDir,
		binary:    binary,
		primaryIP: system.PrimaryIP,
	}
}

// Paths returns the file locations of the certificate set.
func (m *Manager) Paths() Set { return PathsIn(m.certsDir) }

// State derives the bootstrap state from which certificate files exist.
func (m *Manager) State() State {
	paths := m.Paths()
	if !fileExists(paths.CACert) {
		return NoCerts
	}
	if !fileExists(paths.NodeCert) {
		return HasCA
	}
	if !fileExists(paths.ClientCert) {
		return HasNodeCert
	}
	return HasClientCert
}

// CreateCA generates a new certificate authority. Valid only from NoCerts
// unless force is set; regenerating the CA invalidates every node and
// client certificate previously issued, and downstream certificates are
// NOT re-issued automatically.
func (m *Manager) CreateCA(ctx context.Context, force bool) error {
	if st := m.State(); st != NoCerts && !force {
		return &InvalidStateError{Op: "create CA", Have: st, Need: NoCerts}
	}
	if err := os.MkdirAll(m.certsDir, 0755); err != nil {
		return fmt.Errorf("create certs dir: %w", err)
	}

	paths := m.Paths()
	if force {
		// A stale ca.key makes create-ca refuse to overwrite.
		for _, p := range []string{paths.CACert, paths.CAKey} {
			_ = os.Remove(p)
		}
	}

	m.logger.Info().Str("dir", m.certsDir).Msg("generating certificate authority")
	_, _, err := m.runner.Run(ctx, m.binary, "cert", "create-ca",
		"--certs-dir="+m.certsDir,
		"--ca-key="+paths.CAKey,
	)
	if err != nil {
		return fmt.Errorf("create CA: %w", err)
	}
	if force {
		m.logger.Warn().Msg("CA regenerated; existing node and client certificates are now invalid and must be re-issued")
	}
	return nil
}

// IssueNodeCert creates this node's certificate. The SAN set covers only
// this node: localhost, 127.0.0.1, the detected primary IP, and the
// configured domain. Peer domains are intentionally excluded so adding
// nodes to the cluster never requires regenerating existing certificates.
func (m *Manager) IssueNodeCert(ctx context.Context) error {
	if st := m.State(); st < HasCA {
		return &InvalidStateError{Op: "issue node cert", Have: st, Need: HasCA}
	}

	cfg, err := m.store.Load()
	if err != nil {
		return err
	}

	sans := []string{"localhost", "127.0.0.1", m.primaryIP(), cfg.Domain}
	m.logger.Info().Strs("san", sans).Msg("generating node certificate")

	args := append([]string{"cert", "create-node"}, sans...)
	args = append(args,
		"--certs-dir="+m.certsDir,
		"--ca-key="+m.Paths().CAKey,
	)
	if _, _, err := m.runner.Run(ctx, m.binary, args...); err != nil {
		return fmt.Errorf("issue node cert: %w", err)
	}
	return nil
}

// IssueClientCert creates the root client certificate, then converts its
// private key to PKCS#8 for the backend. A failed conversion does not roll
// back the created certificate; the partial success is surfaced to the
// caller as an error.
func (m *Manager) IssueClientCert(ctx context.Context) error {
	if st := m.State(); st < HasNodeCert {
		return &InvalidStateError{Op: "issue client cert", Have: st, Need: HasNodeCert}
	}

	paths := m.Paths()
	m.logger.Info().Msg("generating root client certificate")
	_, _, err := m.runner.Run(ctx, m.binary, "cert", "create-client", "root",
		"--certs-dir="+m.certsDir,
		"--ca-key="+paths.CAKey,
	)
	if err != nil {
		return fmt.Errorf("issue client cert: %w", err)
	}

	_, _, err = m.runner.Run(ctx, "openssl", "pkcs8",
		"-topk8", "-inform", "PEM", "-outform", "PEM", "-nocrypt",
		"-in", paths.ClientKey,
		"-out", paths.ClientKeyPKCS8,
	)
	if err != nil {
		m.logger.Warn().Err(err).Msg("client certificate created but PKCS#8 conversion failed")
		return fmt.Errorf("client cert created, PKCS#8 conversion failed: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
