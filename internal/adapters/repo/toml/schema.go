package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version int            `toml:"version"`
	Ledgers []ledgerSchema `toml:"ledgers"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported ledger schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type ledgerSchema struct {
	UserID        string `toml:"user_id"`
	Plan          string `toml:"plan"`
	TokenUsage    int64  `toml:"token_usage"`
	LastResetDate string `toml:"last_reset_date"`
}
