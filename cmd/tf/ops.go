package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/mcptools"
)

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default taskflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate taskflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true})
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfgCmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Println("database ready at", a.Config.Database.Path)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, chat relay and periodic jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Server.JWTSecret == "" && !a.Config.Server.AllowDevHeader {
					return fmt.Errorf("TASKFLOW_JWT_SECRET is required for bearer auth")
				}
				return a.Serve(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Mirror users from the identity provider"}
	var u domain.User
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Facade.EnsureUser(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&u.ID, "id", "", "user id (token subject)")
	add.Flags().StringVar(&u.Username, "username", "", "username used in @mentions")
	add.Flags().StringVar(&u.Email, "email", "", "email")
	add.Flags().StringVar(&u.DisplayName, "name", "", "display name")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("username")
	usr.AddCommand(add)

	keys := &cobra.Command{
		Use:   "api-key",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				key, secret, err := a.Facade.CreateAPIKey(ctx, who, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"key": key, "secret": secret})
			})
		},
	}
	keys.Flags().String("name", "", "key label")
	usr.AddCommand(keys)
	return usr
}

func sweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Materialize due recurrences and raise deadline items once",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := a.Facade.Materialize(ctx, now)
				if err != nil {
					return err
				}
				due, err := a.Facade.SweepDeadlines(ctx, now)
				if err != nil {
					return err
				}
				out := map[string]any{"recurrences": rec, "deadlines": due}
				return render(out, table.Row{"Created", "Deactivated", "Due soon", "Overdue"}, []table.Row{
					{len(rec.Created), rec.Deactivated, due.DueSoon, due.Overdue},
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 time")
	return cmd
}

func pinCmd() *cobra.Command {
	p := &cobra.Command{Use: "pin", Short: "Password reset PINs"}
	p.AddCommand(&cobra.Command{
		Use:   "request <login>",
		Short: "Email a reset PIN to the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Facade.RequestPasswordReset(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("if the account exists a PIN was sent")
				return nil
			})
		},
	})
	p.AddCommand(&cobra.Command{
		Use:   "verify <login> <code>",
		Short: "Check a reset PIN",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Facade.VerifyPasswordReset(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	})
	return p
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the board as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, newLogger())
			if err != nil {
				return err
			}
			defer a.Close()
			return server.ServeStdio(mcptools.NewServer(a.Facade, who, version))
		},
	}
}
