// Package install provisions and removes the database toolchain on the
// host. Everything here is glue around the official release tarballs.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/astranet/astranetctl/internal/config"
	"github.com/astranet/astranetctl/internal/system"
)

// probePaths are the fixed locations checked for the database binary, in
// order, before falling back to PATH lookup.
func probePaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"/usr/local/bin/cockroach",
		"/usr/bin/cockroach",
		filepath.Join(home, "bin", "cockroach"),
	}
}

// BinaryPath resolves the database binary, returning the bare name as a
// last resort so PATH lookup still has a chance.
func BinaryPath(ctx context.Context, runner system.Runner) string {
	for _, p := range probePaths() {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	if stdout, _, err := runner.Run(ctx, "which", "cockroach"); err == nil {
		if p := strings.TrimSpace(stdout); p != "" {
			return p
		}
	}
	return "cockroach"
}

// Installed reports whether the database binary is present.
func Installed(ctx context.Context, runner system.Runner) bool {
	for _, p := range probePaths() {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	_, _, err := runner.Run(ctx, "which", "cockroach")
	return err == nil
}

// Installer downloads and installs the database binary.
type Installer struct {
	logger zerolog.Logger
	runner system.Runner
}

func NewInstaller(logger zerolog.Logger, runner system.Runner) *Installer {
	return &Installer{
		logger: logger.With().Str("component", "install").Logger(),
		runner: runner,
	}
}

func tarballURL() (string, error) {
	switch runtime.GOARCH {
	case "amd64":
		return "https://binaries.cockroachdb.com/cockroach-latest.linux-amd64.tgz", nil
	case "arm64":
		return "https://binaries.cockroachdb.com/cockroach-latest.linux-arm64.tgz", nil
	default:
		return "", fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
	}
}

// InstallCockroach downloads the latest release tarball (wget first, curl
// as the single fallback), extracts it and copies the binary into
// /usr/local/bin for root or ~/bin otherwise.
func (i *Installer) InstallCockroach(ctx context.Context) error {
	url, err := tarballURL()
	if err != nil {
		return err
	}

	installDir := "/usr/local/bin"
	if os.Geteuid() != 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home: %w", err)
		}
		installDir = filepath.Join(home, "bin")
		if err := os.MkdirAll(installDir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", installDir, err)
		}
	}

	tarball := "/tmp/cockroach.tgz"
	i.logger.Info().Str("url", url).Msg("downloading database release")
	if _, _, err := i.runner.Run(ctx, "wget", "-q", url, "-O", tarball); err != nil {
		i.logger.Warn().Err(err).Msg("wget failed, retrying with curl")
		if _, _, err := i.runner.Run(ctx, "curl", "-sL", url, "-o", tarball); err != nil {
			return fmt.Errorf("download release: %w", err)
		}
	}

	i.logger.Info().Msg("extracting")
	if _, _, err := i.runner.Run(ctx, "tar", "xzf", tarball, "-C", "/tmp", "--strip-components=1", "--wildcards", "*/cockroach"); err != nil {
		return fmt.Errorf("extract release: %w", err)
	}

	target := filepath.Join(installDir, "cockroach")
	if _, _, err := i.runner.Run(ctx, "cp", "/tmp/cockroach", target); err != nil {
		return fmt.Errorf("install binary: %w", err)
	}
	if _, _, err := i.runner.Run(ctx, "chmod", "+x", target); err != nil {
		return fmt.Errorf("chmod binary: %w", err)
	}
	_, _, _ = i.runner.Run(ctx, "rm", "-f", tarball, "/tmp/cockroach")

	i.logger.Info().Str("path", target).Msg("database installed")
	return nil
}

// Purge removes every artifact the tool created: data, certificates, logs,
// PID files, credentials and the binary itself. The caller must have
// stopped the database first and collected explicit operator confirmation.
func (i *Installer) Purge(ctx context.Context, layout config.Layout) error {
	for _, dir := range []string{layout.StoreDir(), layout.CertsDir(), layout.LetsEncryptDir(), layout.LogsDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	for _, file := range []string{layout.CockroachLog(), layout.CAServerPIDFile(), layout.CAServerLog(), layout.CredentialsFile()} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", file, err)
		}
	}

	for _, p := range probePaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			i.logger.Warn().Str("path", p).Err(err).Msg("binary not removable, delete it manually")
		} else {
			i.logger.Info().Str("path", p).Msg("binary removed")
		}
	}

	// Drop the state root if nothing else lives there.
	if entries, err := os.ReadDir(layout.Root); err == nil && len(entries) == 0 {
		_ = os.Remove(layout.Root)
	}
	i.logger.Info().Msg("purge complete")
	return nil
}
