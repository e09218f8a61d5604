package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/astranet/astranetctl/internal/certs"
	"github.com/astranet/astranetctl/internal/config"
)

// validIdentRe restricts database and user names to identifier characters,
// since they are spliced into DDL statements.
var validIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// AdminURL builds the root connection string over the SQL port, using the
// client certificate set for verify-full TLS.
func AdminURL(cfg config.ClusterConfig, certsDir string) string {
	paths := certs.PathsIn(certsDir)
	q := url.Values{}
	q.Set("sslmode", "verify-full")
	q.Set("sslrootcert", paths.CACert)
	q.Set("sslcert", paths.ClientCert)
	q.Set("sslkey", paths.ClientKey)
	return fmt.Sprintf("postgresql://root@localhost:%d/defaultdb?%s", cfg.SQLPort, q.Encode())
}

// pgxExec opens a short-lived admin connection and executes one statement.
// The database speaks the Postgres wire protocol, so pgx talks to it
// directly instead of shelling out for every statement.
func (c *Controller) pgxExec(ctx context.Context, sql string) error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, AdminURL(cfg, c.layout.CertsDir()))
	if err != nil {
		return fmt.Errorf("connect as admin: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// CreateWebUser provisions (or re-provisions) the password-authenticated
// admin account used by the web console, then records the credentials to
// the state directory with a bcrypt hash alongside the plaintext the
// operator needs for first login.
func (c *Controller) CreateWebUser(ctx context.Context, username, password string) error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}
	if username == "" {
		username = cfg.AdminUser
	}
	if password == "" {
		password = cfg.AdminPassword
	}
	if !validIdentRe.MatchString(username) {
		return fmt.Errorf("create web user: invalid username %q", username)
	}

	c.logger.Info().Str("user", username).Msg("creating web console user")

	// Drop first so a password change takes effect; absence is fine.
	if err := c.execSQL(ctx, fmt.Sprintf("DROP USER IF EXISTS %s", quoteIdent(username))); err != nil {
		c.logger.Warn().Err(err).Msg("drop existing user failed")
	}

	stmt := fmt.Sprintf("CREATE USER %s WITH PASSWORD '%s'; GRANT admin TO %s",
		quoteIdent(username), strings.ReplaceAll(password, "'", "''"), quoteIdent(username))
	if err := c.execSQL(ctx, stmt); err != nil {
		return fmt.Errorf("create web user %s: %w", username, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	creds := fmt.Sprintf("Web UI credentials\n==================\nURL: https://%s:%d\nUser: %s\nPassword: %s\nBcrypt: %s\n",
		c.primaryIP(), cfg.HTTPPort, username, password, hash)
	if err := os.WriteFile(c.layout.CredentialsFile(), []byte(creds), 0600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	c.logger.Info().Str("file", c.layout.CredentialsFile()).Msg("credentials saved")
	return nil
}
