package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regionline/internal/app"
	"regionline/internal/config"
	"regionline/internal/db"
	"regionline/internal/domain"
	"regionline/internal/engine"
	"regionline/internal/migrate"
	"regionline/internal/repo"
	"regionline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Regionline CLI",
	Long: `Regionline serves pages made of named regions that update in place.
Core concepts:
- Region: a named area of a page rendered from a fragment path with arguments.
- Action: a server-side operation submitted from a form, identified by a moniker.
- Update: one request that runs actions and re-renders regions together.
- Validator: answers field-level errors, warnings and canonicalizations as you type.
- Journal: every action and todo change is recorded; view it with 'rl log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REGIONLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/regionline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("memory", false, "use an in-memory database")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("memory", rootCmd.PersistentFlags().Lookup("memory"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(todoCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(preloadKeyCmd())
	rootCmd.AddCommand(pageCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference server",
		Long:  "Serves the todo page, the update webservice, the field validator and the JSON API under the base path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ws, err := openWorkspace(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer ws.Close()
			if addr == "" {
				addr = ws.Config.Server.Addr
			}
			handler, err := server.New(server.Config{
				Engine:         ws.Engine,
				BasePath:       ws.Config.Server.BasePath,
				WebservicePath: ws.Config.Server.WebservicePath,
				ValidatorPath:  ws.Config.Server.ValidatorPath,
				Logger:         logger.With("component", "server"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Regionline on http://%s/ (API at %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				addr, ws.Config.Server.BasePath, ws.Config.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config server.addr)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show todo counts and registered handlers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountTodosByStatus(ctx)
				if err != nil {
					return err
				}
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"todo_counts":     counts,
					"latest_event_id": latest,
					"actions":         e.Classes(),
					"fragments":       e.FragmentPaths(),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println("Todos:")
				for _, s := range e.Config.Todos.Statuses {
					fmt.Printf("  %s: %d\n", s, counts[s])
				}
				fmt.Printf("Latest event: %d\n", latest)
				fmt.Printf("Actions: %s\n", strings.Join(e.Classes(), ", "))
				fmt.Printf("Fragments: %s\n", strings.Join(e.FragmentPaths(), ", "))
				return nil
			})
		},
	}
}

func todoCmd() *cobra.Command {
	todo := &cobra.Command{
		Use:   "todo",
		Short: "Manage todos",
		Long:  "Todos are the sample domain the reference page edits. Changes made here are journaled like those made from the page.",
	}
	todo.AddCommand(todoAddCmd())
	todo.AddCommand(todoListCmd())
	todo.AddCommand(todoShowCmd())
	todo.AddCommand(todoEditCmd())
	todo.AddCommand(todoDoneCmd())
	todo.AddCommand(todoRemoveCmd())
	return todo
}

func todoAddCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTodo(ctx, engine.TodoCreateOptions{
					ID:          id,
					Title:       strings.Join(args, " "),
					Description: desc,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "todo id (generated when empty)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func todoListCmd() *cobra.Command {
	var f repo.TodoFilters
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.Status == engine.FilterAll {
					f.Status = ""
				}
				todos, err := e.Repo.ListTodos(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(todos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Created", "Completed"})
				for _, t := range todos {
					completed := ""
					if t.CompletedAt != nil {
						completed = *t.CompletedAt
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.CreatedAt, completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter ('all' for every todo)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of todos")
	return cmd
}

func todoShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTodo(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func todoEditCmd() *cobra.Command {
	var title, desc, status string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Update todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TodoUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTodo(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	return cmd
}

func todoDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Complete todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := "done"
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTodo(ctx, engine.TodoUpdateOptions{ID: args[0], Status: &status})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func todoRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete todo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTodo(ctx, args[0], ""); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Journal",
		Long:  "Every action run, failed action and todo change, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var after int64
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var events []domain.Event
				var err error
				if after > 0 {
					events, err = e.Repo.EventsAfter(ctx, n, after, f)
				} else {
					events, err = e.Repo.LatestEvents(ctx, n, f)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Moniker", "Payload"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += ":" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.Moniker, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "list events after this id, oldest first")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.RequestID, "request-id", "", "request id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create regionline.yml",
		Long:  "Config sets the listen address and endpoint paths, client timeouts and preload cache size, and the todo statuses.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var addr string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default regionline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(addr)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "listen address")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func dbCmd() *cobra.Command {
	d := &cobra.Command{Use: "db", Short: "Workspace database"}
	d.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Apply(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"applied": applied})
			}
			if len(applied) == 0 {
				fmt.Println("schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Printf("applied %s\n", name)
			}
			return nil
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			current, err := migrate.Current(cmd.Context(), conn)
			if err != nil {
				return err
			}
			latest, err := migrate.Latest()
			if err != nil {
				return err
			}
			out := map[string]any{"path": db.Path(viper.GetString("workspace")), "current": current, "latest": latest}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("Database: %s\nVersion: %d of %d\n", out["path"], current, latest)
			return nil
		},
	})
	return d
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openWorkspace(ctx context.Context, logger *slog.Logger) (*app.Workspace, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Memory:     viper.GetBool("memory"),
		Logger:     logger,
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := openWorkspace(ctx, newLogger())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func openDB() (*sql.DB, error) {
	return db.Open(db.Config{Workspace: viper.GetString("workspace"), Memory: viper.GetBool("memory")})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
