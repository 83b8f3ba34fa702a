package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"regionline/internal/config"
	"regionline/internal/db"
	"regionline/internal/engine"
	"regionline/internal/migrate"
)

// Options select the workspace to open.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/regionline.yml.
	ConfigPath string
	// Memory keeps the database in memory; nothing is written to disk.
	Memory bool
	Logger *slog.Logger
}

// Workspace bundles the open database, the effective config and the engine
// built on them.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open resolves the config, opens and migrates the database and builds the
// engine. A workspace without regionline.yml runs on the defaults.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if !opts.Memory {
		if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Memory: opts.Memory})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger.With("component", "engine")
		if len(applied) > 0 {
			opts.Logger.Debug("applied migrations", "files", applied)
		}
	}
	return &Workspace{Dir: opts.Workspace, DB: conn, Config: cfg, Engine: e}, nil
}

// Close releases the database.
func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// ResolveConfig loads configPath when given, else the workspace file, else
// the defaults.
func ResolveConfig(workspace, configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.FromFile(configPath)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
