package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/embediq/backend/internal/sanitize"
)

// Provisioner deterministically maps tenant IDs to isolated working
// directories under a fixed base directory. It is stateless and safe for
// concurrent use.
type Provisioner struct {
	baseDir string
}

// NewProvisioner creates a provisioner rooted at baseDir, creating the base
// directory if needed.
func NewProvisioner(baseDir string) (*Provisioner, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: base directory is required", ErrProvisioning)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving base directory: %v", ErrProvisioning, err)
	}
	if err := os.MkdirAll(absBase, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating base directory %s: %v", ErrProvisioning, absBase, err)
	}
	return &Provisioner{baseDir: absBase}, nil
}

// Ensure returns the working directory for tenantID, creating it on first
// call. Idempotent: later calls for the same tenant are no-ops. Unsafe IDs
// are rejected with ErrInvalidTenantID before any filesystem access.
func (p *Provisioner) Ensure(tenantID string) (string, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}

	dir := filepath.Join(p.baseDir, tenantID)

	// Defense in depth: the join must stay under the base directory even if
	// validation rules ever loosen.
	if _, err := sanitize.ValidatePath(dir, p.baseDir); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", ErrProvisioning, dir, err)
	}

	// MkdirAll succeeds on an existing dir regardless of mode; verify we can
	// actually write into it.
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return "", fmt.Errorf("%w: directory %s is not writable: %v", ErrProvisioning, dir, err)
	}
	probeName := probe.Name()
	_ = probe.Close()
	_ = os.Remove(probeName)

	return dir, nil
}

// BaseDir returns the provisioner's base directory.
func (p *Provisioner) BaseDir() string {
	return p.baseDir
}
