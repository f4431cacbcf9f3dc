package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"detflow/internal/config"
	"detflow/internal/engine"
	"detflow/internal/engineerr"
	"detflow/internal/eventlog"
	"detflow/internal/flowdef"
)

// definitionRegistry lets an embedding program register the Definitions
// its flows run against, keyed by name, so the thin CLI commands can
// resolve --definition into a concrete flowdef.Definition without the
// CLI needing to know anything about step implementations itself.
var (
	definitionsMu sync.RWMutex
	definitions   = map[string]flowdef.Definition{}
)

// RegisterDefinition makes def available to CLI commands under name.
// Embedding programs call this from their own main before Execute.
func RegisterDefinition(name string, def flowdef.Definition) {
	definitionsMu.Lock()
	defer definitionsMu.Unlock()
	definitions[name] = def
}

func lookupDefinition(name string) (flowdef.Definition, error) {
	definitionsMu.RLock()
	defer definitionsMu.RUnlock()
	def, ok := definitions[name]
	if !ok {
		return flowdef.Definition{}, &engineerr.PolicyViolation{Msg: fmt.Sprintf("no definition registered under name %q", name)}
	}
	return def, nil
}

// newEngineFromFlags builds an Engine from the --config flag (falling
// back to config.Default when unset or not found).
func newEngineFromFlags(cmd *cobra.Command) (*engine.Engine, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		switch {
		case errors.Is(err, config.ErrConfigNotFound):
			cfg = config.Default()
		case err != nil:
			return nil, &engineerr.PolicyViolation{Msg: err.Error()}
		default:
			cfg = loaded
		}
	} else {
		cfg = config.Default()
	}

	store, err := newStoreFromConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	b := engine.NewBuilder().WithEventStore(store)
	e, err := b.Build()
	if err != nil {
		return nil, &engineerr.Internal{Msg: err.Error()}
	}
	return e, nil
}

func newStoreFromConfig(ctx context.Context, cfg *config.Config) (eventlog.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		dsn := cfg.Store.Postgres.PostgresDSN()
		if dsn == "" {
			return nil, &engineerr.PolicyViolation{Msg: fmt.Sprintf("environment variable %s is not set", cfg.Store.Postgres.DSNEnv)}
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, &engineerr.StorageError{Msg: err.Error()}
		}
		if err := eventlog.Migrate(ctx, pool); err != nil {
			return nil, &engineerr.StorageError{Msg: err.Error()}
		}
		return eventlog.NewPgStore(pool), nil
	default:
		return eventlog.NewMemoryStore(), nil
	}
}
