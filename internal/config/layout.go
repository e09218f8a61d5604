package config

import (
	"os"
	"path/filepath"
)

// Layout describes the fixed state directory tree under the operator's home
// (~/.astranet by default). Every component receives a Layout instead of
// reaching for ambient paths, so tests can point it at a temp dir.
type Layout struct {
	Root string
}

// DefaultLayout roots the state tree in the user's home directory.
func DefaultLayout() Layout {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Layout{Root: filepath.Join(home, ".astranet")}
}

func (l Layout) ConfigPath() string      { return filepath.Join(l.Root, "config.json") }
func (l Layout) CertsDir() string        { return filepath.Join(l.Root, "certs") }
func (l Layout) StoreDir() string        { return filepath.Join(l.Root, "cockroach-data") }
func (l Layout) LetsEncryptDir() string  { return filepath.Join(l.Root, "letsencrypt") }
func (l Layout) MigrationsDir() string   { return filepath.Join(l.Root, "migrations") }
func (l Layout) CockroachLog() string    { return filepath.Join(l.Root, "cockroach.log") }
func (l Layout) CAServerPIDFile() string { return filepath.Join(l.Root, "ca_server.pid") }
func (l Layout) CAServerLog() string     { return filepath.Join(l.Root, "ca_server.log") }
func (l Layout) CredentialsFile() string { return filepath.Join(l.Root, "web_credentials.txt") }
func (l Layout) LogsDir() string         { return filepath.Join(l.Root, "logs") }
