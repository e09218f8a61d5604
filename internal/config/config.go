package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// section is the key of the cluster settings inside the on-disk document.
// The document may carry other sections owned by other tools; saves must
// never touch them.
const section = "cockroachdb"

// ClusterConfig holds the cluster settings persisted under the
// "cockroachdb" section of the configuration document.
type ClusterConfig struct {
	SQLPort       int      `json:"sql_port" yaml:"sql_port" validate:"gt=0"`
	HTTPPort      int      `json:"http_port" yaml:"http_port" validate:"gt=0"`
	Domain        string   `json:"domain" yaml:"domain" validate:"required"`
	ClusterNodes  []string `json:"cluster_nodes" yaml:"cluster_nodes"`
	DatabaseName  string   `json:"database_name" yaml:"database_name" validate:"required"`
	AdminUser     string   `json:"admin_user" yaml:"admin_user"`
	AdminPassword string   `json:"admin_password" yaml:"admin_password"`
	CAServerPort  int      `json:"ca_server_port" yaml:"ca_server_port" validate:"gt=0"`
	CAServerEmail string   `json:"ca_server_email" yaml:"ca_server_email"`
}

// Defaults returns the built-in configuration used when the document or a
// field is absent.
func Defaults() ClusterConfig {
	return ClusterConfig{
		SQLPort:       26257,
		HTTPPort:      8080,
		Domain:        "astranet.local",
		ClusterNodes:  []string{},
		DatabaseName:  "astranetdb",
		AdminUser:     "admin",
		AdminPassword: "astranet2026",
		CAServerPort:  8443,
	}
}

// PersistenceError reports a configuration read or write failure.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store loads and persists the configuration document. It provides no
// concurrency control: two operators running the CLI at once can lose
// updates, and that limitation is deliberate (single-operator tool).
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the configuration document.
func (s *Store) Path() string { return s.path }

// Load reads the persisted cluster section, filling missing fields with
// defaults. A missing file is a valid initial state, never an error.
func (s *Store) Load() (ClusterConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return cfg, &PersistenceError{Op: "parse", Path: s.path, Err: err}
	}

	raw, ok := doc[section]
	if !ok {
		return cfg, nil
	}
	// Unmarshal over the defaults so absent keys keep their default value.
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, &PersistenceError{Op: "parse", Path: s.path, Err: err}
	}
	return cfg, nil
}

// Save deep-merges partial into the cluster section of the full document and
// writes it back pretty-printed. Sections and fields not named in partial
// are preserved untouched.
func (s *Store) Save(partial map[string]any) error {
	doc := map[string]any{}
	if data, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return &PersistenceError{Op: "parse", Path: s.path, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	sec, _ := doc[section].(map[string]any)
	if sec == nil {
		sec = map[string]any{}
	}
	for k, v := range partial {
		sec[k] = v
	}
	doc[section] = sec

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &PersistenceError{Op: "mkdir", Path: s.path, Err: err}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &PersistenceError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

// Update is the load+merge+save convenience used by the CLI.
func (s *Store) Update(partial map[string]any) error {
	return s.Save(partial)
}

// SaveConfig validates cfg and persists the whole cluster section.
func (s *Store) SaveConfig(cfg ClusterConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	var partial map[string]any
	if err := json.Unmarshal(data, &partial); err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	return s.Save(partial)
}

var validate = validator.New()

// Validate checks structural invariants: positive ports, required fields,
// and that the SQL, HTTP and CA server ports are distinct.
func Validate(cfg ClusterConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if cfg.SQLPort == cfg.HTTPPort || cfg.SQLPort == cfg.CAServerPort || cfg.HTTPPort == cfg.CAServerPort {
		return fmt.Errorf("validate config: sql_port, http_port and ca_server_port must be distinct (%d, %d, %d)",
			cfg.SQLPort, cfg.HTTPPort, cfg.CAServerPort)
	}
	return nil
}
