package certs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// FetchCAFromPeers downloads ca.crt from the configured cluster nodes,
// trying each in list order and stopping at the first success. It is the
// alternative entry from NoCerts to HasCA for nodes joining an existing
// cluster. Returns ErrPeerUnreachable when every peer fails.
func (m *Manager) FetchCAFromPeers(ctx context.Context) error {
	cfg, err := m.store.Load()
	if err != nil {
		return err
	}
	if len(cfg.ClusterNodes) == 0 {
		return fmt.Errorf("fetch CA: %w", ErrPeerUnreachable)
	}

	urls := make([]string, 0, len(cfg.ClusterNodes))
	for _, node := range cfg.ClusterNodes {
		domain, _, _ := strings.Cut(node, ":")
		urls = append(urls, fmt.Sprintf("https://%s:%d/ca.crt", domain, cfg.CAServerPort))
	}
	return m.FetchCA(ctx, urls...)
}

// FetchCA downloads the CA certificate from the given URLs in order,
// writing the first successful response to the certs directory.
func (m *Manager) FetchCA(ctx context.Context, urls ...string) error {
	if err := os.MkdirAll(m.certsDir, 0755); err != nil {
		return fmt.Errorf("create certs dir: %w", err)
	}

	client := m.httpClient()
	for _, url := range urls {
		m.logger.Debug().Str("url", url).Msg("trying CA download")
		if err := m.fetchOne(ctx, client, url); err != nil {
			m.logger.Warn().Str("url", url).Err(err).Msg("CA download failed")
			continue
		}
		m.logger.Info().Str("url", url).Msg("CA certificate downloaded")
		return nil
	}
	return fmt.Errorf("fetch CA: %w", ErrPeerUnreachable)
}

func (m *Manager) fetchOne(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := os.WriteFile(m.Paths().CACert, body, 0644); err != nil {
		return fmt.Errorf("write ca.crt: %w", err)
	}
	return nil
}

func (m *Manager) httpClient() *http.Client {
	if m.client != nil {
		return m.client
	}
	return &http.Client{Timeout: 10 * time.Second}
}
