// Package bootstrap turns a declarative plan file into a running node:
// configuration, certificates, the database process and schema migrations,
// applied in order with fail-fast semantics.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/astranet/astranetctl/internal/certs"
	"github.com/astranet/astranetctl/internal/config"
)

// Plan is the on-disk bootstrap description. Config fields left zero keep
// their defaults or previously persisted values.
type Plan struct {
	Config    config.ClusterConfig `yaml:"config" validate:"required"`
	FirstNode bool                 `yaml:"first_node"`
	// FetchCA pulls the CA certificate from an existing peer instead of
	// creating a new authority. Requires cluster_nodes to be set.
	FetchCA bool `yaml:"fetch_ca"`
}

// LoadPlan parses and validates a plan file.
func LoadPlan(path string) (Plan, error) {
	var plan Plan
	data, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("read plan: %w", err)
	}
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return plan, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := validator.New().Struct(plan); err != nil {
		return plan, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	if plan.FetchCA && len(plan.Config.ClusterNodes) == 0 {
		return plan, fmt.Errorf("invalid plan %s: fetch_ca requires cluster_nodes", path)
	}
	if plan.FetchCA && plan.FirstNode {
		return plan, fmt.Errorf("invalid plan %s: first_node and fetch_ca are mutually exclusive", path)
	}
	return plan, nil
}

// CertIssuer is the certificate surface bootstrap drives.
type CertIssuer interface {
	State() certs.State
	CreateCA(ctx context.Context, force bool) error
	FetchCAFromPeers(ctx context.Context) error
	IssueNodeCert(ctx context.Context) error
	IssueClientCert(ctx context.Context) error
}

// Database is the lifecycle surface bootstrap drives.
type Database interface {
	Start(ctx context.Context, isFirstNode bool) error
	InitCluster(ctx context.Context) error
}

// Runner sequences a plan. Each stage must succeed before the next runs.
type Runner struct {
	logger zerolog.Logger
	store  *config.Store
	certs  CertIssuer
	db     Database
}

func NewRunner(logger zerolog.Logger, store *config.Store, certs CertIssuer, db Database) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "bootstrap").Logger(),
		store:  store,
		certs:  certs,
		db:     db,
	}
}

// Apply executes the plan: persist configuration, establish the full
// certificate set, start the node and, on the first node, initialize the
// cluster. Migrations run as part of cluster init via database creation.
func (r *Runner) Apply(ctx context.Context, plan Plan) error {
	r.logger.Info().Bool("first_node", plan.FirstNode).Msg("applying bootstrap plan")

	if err := r.store.SaveConfig(plan.Config); err != nil {
		return fmt.Errorf("persist configuration: %w", err)
	}

	if err := r.ensureCerts(ctx, plan); err != nil {
		return err
	}

	if err := r.db.Start(ctx, plan.FirstNode); err != nil {
		return fmt.Errorf("start database: %w", err)
	}
	if plan.FirstNode {
		if err := r.db.InitCluster(ctx); err != nil {
			return fmt.Errorf("initialize cluster: %w", err)
		}
	}

	r.logger.Info().Msg("bootstrap complete")
	return nil
}

func (r *Runner) ensureCerts(ctx context.Context, plan Plan) error {
	state := r.certs.State()
	if state == certs.NoCerts {
		if plan.FetchCA {
			if err := r.certs.FetchCAFromPeers(ctx); err != nil {
				if !errors.Is(err, certs.ErrPeerUnreachable) {
					return fmt.Errorf("fetch CA from peers: %w", err)
				}
				// Fall back to a local authority; the operator must
				// reconcile trust before this node can join.
				r.logger.Warn().Err(err).Msg("no peer served the CA, creating a local authority instead")
				if err := r.certs.CreateCA(ctx, false); err != nil {
					return fmt.Errorf("create CA: %w", err)
				}
			}
		} else {
			if err := r.certs.CreateCA(ctx, false); err != nil {
				return fmt.Errorf("create CA: %w", err)
			}
		}
		state = r.certs.State()
	}
	if state == certs.HasCA {
		if err := r.certs.IssueNodeCert(ctx); err != nil {
			return fmt.Errorf("issue node certificate: %w", err)
		}
		state = r.certs.State()
	}
	if state == certs.HasNodeCert {
		if err := r.certs.IssueClientCert(ctx); err != nil {
			return fmt.Errorf("issue client certificate: %w", err)
		}
	}
	return nil
}
