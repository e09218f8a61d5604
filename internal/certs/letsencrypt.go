package certs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ProvisionTransportCert obtains the CA server's TLS transport certificate
// through certbot's standalone HTTP-01 flow and copies the resulting chain
// and key into the Let's Encrypt state directory. The domain must resolve
// to this host and the CA server port must be reachable from the internet.
func (m *Manager) ProvisionTransportCert(ctx context.Context, leDir string) error {
	cfg, err := m.store.Load()
	if err != nil {
		return err
	}
	if cfg.Domain == "" || cfg.Domain == "astranet.local" {
		return fmt.Errorf("provision transport cert: configure a public domain first")
	}
	if cfg.CAServerEmail == "" {
		return fmt.Errorf("provision transport cert: ca_server_email is not configured")
	}

	if err := os.MkdirAll(leDir, 0755); err != nil {
		return fmt.Errorf("create letsencrypt dir: %w", err)
	}

	m.logger.Info().Str("domain", cfg.Domain).Int("port", cfg.CAServerPort).Msg("requesting certificate from Let's Encrypt")
	_, _, err = m.runner.Run(ctx, "sudo", "certbot", "certonly", "--standalone",
		"--preferred-challenges", "http",
		"--http-01-port", fmt.Sprint(cfg.CAServerPort),
		"-d", cfg.Domain,
		"--email", cfg.CAServerEmail,
		"--agree-tos",
		"--non-interactive",
	)
	if err != nil {
		return fmt.Errorf("certbot: %w", err)
	}

	live := filepath.Join("/etc/letsencrypt/live", cfg.Domain)
	for _, name := range []string{"fullchain.pem", "privkey.pem"} {
		if _, _, err := m.runner.Run(ctx, "sudo", "cp", filepath.Join(live, name), leDir); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}
	user := os.Getenv("USER")
	if user != "" {
		_, _, _ = m.runner.Run(ctx, "sudo", "chown", "-R", user+":"+user, leDir)
	}
	return nil
}
