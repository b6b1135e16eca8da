package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/config"
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "tf",
	Short: "Taskflow CLI",
	Long: `Taskflow is a multi-tenant task board with WIP limits and approvals.
- Organizations own projects; roles are owner > admin > editor > reader.
- Projects have ordered stages; exactly one is the done stage.
- Moving a task into done submits it for approval; admins approve or send it back.
- Dependencies, recurring tasks and an attention inbox round it out.
Commands act as the user given by --as (or TASKFLOW_USER).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("TASKFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding taskflow.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(recurCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(pinCmd())
	rootCmd.AddCommand(mcpCmd())
}

// loadConfig reads taskflow.yml from the workspace and applies TASKFLOW_*
// environment overrides for secrets and endpoints.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("db"); v != "" {
		cfg.Database.Path = v
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(workspace, cfg.Database.Path)
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := viper.GetString("email-endpoint"); v != "" {
		cfg.Notifications.Email.Endpoint = v
	}
	if v := viper.GetString("email-api-key"); v != "" {
		cfg.Notifications.Email.APIKey = v
	}
	if v := viper.GetString("chat-webhook-url"); v != "" {
		cfg.Notifications.Chat.WebhookURL = v
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.Facade.WithRequest(ctx), a)
}

func actor() (string, error) {
	id := strings.TrimSpace(viper.GetString("user"))
	if id == "" {
		return "", fmt.Errorf("acting user required; pass --as or set TASKFLOW_USER")
	}
	return id, nil
}

// withActor is withApp for commands that act on behalf of a user.
func withActor(ctx context.Context, fn func(context.Context, *app.App, string) error) error {
	who, err := actor()
	if err != nil {
		return err
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a, who)
	})
}

// printJSONOrTable prints a single record as a field/value table, nested
// values inline as JSON.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		fmt.Println(string(b))
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		val := string(fields[k])
		var s string
		if json.Unmarshal(fields[k], &s) == nil {
			val = s
		}
		rows = append(rows, table.Row{k, val})
	}
	return render(v, table.Row{"Field", "Value"}, rows)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON under --json, otherwise as a table.
func render(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func jsonOutput() bool { return viper.GetBool("json") }
