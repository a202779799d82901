package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vault-snapshots/internal/logging"
)

// Deployment is the per-chain deployment file written alongside the vault contracts.
type Deployment struct {
	ChainID string `json:"chainId"`
	Vault   string `json:"vault"`
}

// ResolveVaultAddress returns the vault address for a chain.
// The explicit VAULT_ADDRESS value wins; otherwise <DeploymentsDir>/<chainID>.json is consulted.
// A missing or unreadable deployment file is not an error: the address is simply unset.
func (v VaultConfig) ResolveVaultAddress(chainID string) string {
	if addr := strings.TrimSpace(v.Address); addr != "" {
		return addr
	}

	dep, err := LoadDeployment(v.DeploymentsDir, chainID)
	if err != nil {
		logging.WithError(err).WithField("chainId", chainID).Debug("No deployment file for chain")
		return ""
	}
	return strings.TrimSpace(dep.Vault)
}

// VaultDirectory resolves vault addresses once per chain and keeps them for the life of
// the process. Later edits to the deployment files are not picked up. A chain that does not
// resolve is retried on the next lookup.
type VaultDirectory struct {
	cfg VaultConfig

	mu       sync.Mutex
	resolved map[string]string
}

// NewVaultDirectory creates a directory over cfg
func NewVaultDirectory(cfg VaultConfig) *VaultDirectory {
	return &VaultDirectory{
		cfg:      cfg,
		resolved: make(map[string]string),
	}
}

// Config returns the vault settings the directory was built from
func (d *VaultDirectory) Config() VaultConfig {
	return d.cfg
}

// DefaultChainID returns the configured chain id
func (d *VaultDirectory) DefaultChainID() string {
	return d.cfg.ChainID
}

// Address returns the vault address for chainID, empty when none is configured.
// An empty chainID selects the configured default.
func (d *VaultDirectory) Address(chainID string) string {
	if chainID == "" {
		chainID = d.cfg.ChainID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if addr, ok := d.resolved[chainID]; ok {
		return addr
	}
	addr := d.cfg.ResolveVaultAddress(chainID)
	if addr != "" {
		d.resolved[chainID] = addr
	}
	return addr
}

// LoadDeployment reads the deployment file for a chain.
func LoadDeployment(dir, chainID string) (*Deployment, error) {
	if dir == "" || chainID == "" {
		return nil, fmt.Errorf("deployments directory and chain id are required")
	}
	// chain ids are used as file names; reject anything that could escape the directory
	if strings.ContainsAny(chainID, `/\`) || strings.Contains(chainID, "..") {
		return nil, fmt.Errorf("invalid chain id: %q", chainID)
	}

	path := filepath.Join(dir, chainID+".json")
	content, err := os.ReadFile(path) // #nosec G304 - path is confined to the deployments directory
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment file %s: %w", path, err)
	}

	var dep Deployment
	if err := json.Unmarshal(content, &dep); err != nil {
		return nil, fmt.Errorf("failed to parse deployment file %s: %w", path, err)
	}
	return &dep, nil
}
