package common

import (
	"fmt"
	"os"
	"path/filepath"

	"vault-ledger-go/internal/models"

	"gopkg.in/yaml.v2"
)

type VaultsConfig struct {
	Vaults []models.VaultConfig `yaml:"vaults"`
}

func LoadVaultConfig(vaultsFile string) ([]models.VaultConfig, error) {
	var vaultsPath string
	if filepath.IsAbs(vaultsFile) {
		vaultsPath = vaultsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		vaultsPath = filepath.Join(wd, vaultsFile)
	}

	data, err := os.ReadFile(vaultsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", vaultsFile, err)
	}

	return ParseVaultConfig(data)
}

// ParseVaultConfig decodes a vault registry and rejects incomplete or duplicate entries.
func ParseVaultConfig(data []byte) ([]models.VaultConfig, error) {
	var config VaultsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse vault registry: %w", err)
	}

	seen := make(map[string]bool, len(config.Vaults))
	for i, vault := range config.Vaults {
		if vault.TokenMint == "" {
			return nil, fmt.Errorf("vault at index %d missing token_mint", i)
		}
		if vault.DepositVault == "" || vault.MainVault == "" || vault.WithdrawalVault == "" {
			return nil, fmt.Errorf("vault %s must list deposit_vault, main_vault and withdrawal_vault", vault.TokenMint)
		}
		if seen[vault.TokenMint] {
			return nil, fmt.Errorf("vault %s listed more than once", vault.TokenMint)
		}
		seen[vault.TokenMint] = true
	}

	return config.Vaults, nil
}

// VaultSymbols maps token mints to display symbols, falling back to the mint.
func VaultSymbols(vaults []models.VaultConfig) map[string]string {
	symbols := make(map[string]string, len(vaults))
	for _, vault := range vaults {
		if vault.Symbol != "" {
			symbols[vault.TokenMint] = vault.Symbol
		} else {
			symbols[vault.TokenMint] = vault.TokenMint
		}
	}
	return symbols
}
