package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	ledgerPathKey    = "ledger.path"
	ledgerFileMode   = 0o600
	ledgerDirMode    = 0o700
	ledgerConfigDir  = ".tutor"
	ledgerConfigFile = "ledger.toml"
	tempFilePattern  = ".ledger-*.toml.tmp"
)

// LedgerRepository keeps every user's token ledger in one TOML file.
type LedgerRepository struct {
	ledgerPath string
	mu         *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.LedgerRepository = (*LedgerRepository)(nil)

func NewLedgerRepository(cfg *viper.Viper) (*LedgerRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	cfg.SetDefault(ledgerPathKey, filepath.Join(homeDir, ledgerConfigDir, ledgerConfigFile))

	ledgerPath := cfg.GetString(ledgerPathKey)
	if ledgerPath == "" {
		return nil, errors.New("ledger path is empty")
	}
	ledgerPath, err = normalizeLedgerPath(ledgerPath)
	if err != nil {
		return nil, err
	}

	return &LedgerRepository{ledgerPath: ledgerPath, mu: lockForPath(ledgerPath)}, nil
}

func (r *LedgerRepository) Path() string {
	return r.ledgerPath
}

func (r *LedgerRepository) Save(ctx context.Context, ledger domain.TokenLedger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(ledger)
	updated := false
	for i := range file.Ledgers {
		if file.Ledgers[i].UserID == encoded.UserID {
			file.Ledgers[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Ledgers = append(file.Ledgers, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *LedgerRepository) GetByUserID(ctx context.Context, id domain.UserID) (domain.TokenLedger, error) {
	if err := ctx.Err(); err != nil {
		return domain.TokenLedger{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.TokenLedger{}, err
	}

	for _, entry := range file.Ledgers {
		if entry.UserID == string(id) {
			return fromSchema(entry), nil
		}
	}

	return domain.TokenLedger{}, fmt.Errorf("user %s: %w", id, domain.ErrLedgerNotFound)
}

func (r *LedgerRepository) List(ctx context.Context) ([]domain.TokenLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	ledgers := make([]domain.TokenLedger, 0, len(file.Ledgers))
	for _, entry := range file.Ledgers {
		ledgers = append(ledgers, fromSchema(entry))
	}

	return ledgers, nil
}

func (r *LedgerRepository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.ledgerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read ledger file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode ledger file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizeLedgerPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve ledger path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

// writeSchema replaces the ledger file atomically through a temp file rename.
func (r *LedgerRepository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.ledgerPath), ledgerDirMode); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode ledger file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.ledgerPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}

	if err := tempFile.Chmod(ledgerFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp ledger file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}

	if err := os.Rename(tempName, r.ledgerPath); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(ledger domain.TokenLedger) ledgerSchema {
	return ledgerSchema{
		UserID:        string(ledger.UserID),
		Plan:          string(ledger.Plan),
		TokenUsage:    ledger.TokenUsage,
		LastResetDate: formatTime(ledger.LastResetDate),
	}
}

func fromSchema(entry ledgerSchema) domain.TokenLedger {
	return domain.TokenLedger{
		UserID:        domain.UserID(entry.UserID),
		Plan:          domain.PlanName(entry.Plan),
		TokenUsage:    entry.TokenUsage,
		LastResetDate: parseTime(entry.LastResetDate),
	}
}

// parseTime maps a missing or unparsable date to the Unix epoch, which forces
// a monthly reset on the next quota check.
func parseTime(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}

	return parsed.UTC()
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339)
}
