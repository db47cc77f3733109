package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowdeck/internal/config"
	"flowdeck/internal/coordinator"
	"flowdeck/internal/db"
	"flowdeck/internal/domain"
	"flowdeck/internal/gateway"
	applog "flowdeck/internal/log"
	"flowdeck/internal/migrate"
	"flowdeck/internal/repo"
	"flowdeck/internal/resource"
	"flowdeck/internal/session"
	"flowdeck/internal/stubserver"
)

var rootCmd = &cobra.Command{
	Use:   "flowdeck",
	Short: "Flowdeck CLI",
	Long: `Flowdeck is a workspace client for the workflow automation platform.
It keeps an authenticated session against the identity service and a local
cache of your workflows synchronized with the orchestration service.
State lives in the .flowdeck directory; endpoints come from flowdeck.yml.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLOWDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(devCmd())
}

// client bundles one wired set of services for a single CLI invocation.
// Nothing here is a process-wide singleton.
type client struct {
	Config    *config.Config
	Session   *session.Manager
	Workflows *resource.Store
}

func withClient(ctx context.Context, fn func(context.Context, *client) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	applog.Setup(cfg.Log.Level)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}

	mgr := session.New(r)
	identityGW := gateway.New(cfg.Services.Identity.BaseURL, mgr, mgr.HandleAuthFailure)
	identityGW.HTTPClient.Timeout = cfg.Timeout()
	mgr.UseIdentity(identityGW)
	orchestratorGW := gateway.New(cfg.Services.Orchestrator.BaseURL, mgr, mgr.HandleAuthFailure)
	orchestratorGW.HTTPClient.Timeout = cfg.Timeout()
	store := resource.NewStore(orchestratorGW)
	coordinator.Bind(mgr, store)
	mgr.Restore(ctx)

	return fn(ctx, &client{Config: cfg, Session: mgr, Workflows: store})
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default flowdeck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the identity service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				if err := c.Session.Login(ctx, email, password); err != nil {
					return err
				}
				u := c.Session.CurrentUser()
				if u == nil {
					return fmt.Errorf("session ended before the profile arrived")
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("Logged in as %s (%s)\n", u.Username, u.Email)
				if exp := c.Session.TokenExpiry(); !exp.IsZero() {
					fmt.Printf("Token expires %s\n", exp.Local().Format(time.RFC1123))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func registerCmd() *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not log in)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				profile, err := c.Session.Register(ctx, username, email, password)
				if err != nil {
					return err
				}
				return printJSONOrTable(profile)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear the session and all cached data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				if err := c.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("Logged out")
				return nil
			})
		},
	}
	return cmd
}

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				if !c.Session.Authenticated() {
					return fmt.Errorf("not logged in")
				}
				profile, err := c.Session.FetchUser(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(profile)
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
		Long:  "Workflows pair a trigger (schedule, webhook) with an ordered list of actions. The local cache is refreshed from the orchestrator; mutations go through it.",
	}
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowGetCmd())
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowUpdateCmd())
	wf.AddCommand(workflowDeleteCmd())
	wf.AddCommand(workflowExecutionsCmd())
	wf.AddCommand(workflowRunCmd())
	return wf
}

func workflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				items, err := c.Workflows.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Trigger", "Enabled", "Updated"})
				for _, wf := range items {
					tw.AppendRow(table.Row{wf.ID, wf.Name, wf.Trigger.Type, wf.IsEnabled, wf.UpdatedAt.Local().Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				if _, err := c.Workflows.List(ctx); err != nil {
					return err
				}
				wf, ok := c.Workflows.Get(id)
				if !ok {
					return fmt.Errorf("workflow %s not found", id)
				}
				return printJSONOrTable(wf)
			})
		},
	}
	return cmd
}

func specFromFlags(name, description, triggerJSON, actionsJSON string, enabled bool) (domain.WorkflowSpec, error) {
	spec := domain.WorkflowSpec{
		Name:        name,
		Description: description,
		IsEnabled:   enabled,
	}
	if triggerJSON != "" {
		if err := json.Unmarshal([]byte(triggerJSON), &spec.Trigger); err != nil {
			return spec, fmt.Errorf("invalid --trigger-json: %w", err)
		}
	}
	if actionsJSON != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &spec.Actions); err != nil {
			return spec, fmt.Errorf("invalid --actions-json: %w", err)
		}
	}
	return spec, nil
}

func workflowCreateCmd() *cobra.Command {
	var name, description, triggerJSON, actionsJSON string
	var enabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := specFromFlags(name, description, triggerJSON, actionsJSON, enabled)
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				created, err := c.Workflows.Create(ctx, spec)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&triggerJSON, "trigger-json", "", `trigger definition, e.g. {"type":"schedule","config":{"cron":"0 * * * *"}}`)
	cmd.Flags().StringVar(&actionsJSON, "actions-json", "", `action definitions, e.g. [{"type":"log_message","name":"hello","config":{"message":"hi"}}]`)
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable on creation")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("trigger-json")
	_ = cmd.MarkFlagRequired("actions-json")
	return cmd
}

func workflowUpdateCmd() *cobra.Command {
	var name, description, triggerJSON, actionsJSON string
	var enabled bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			spec, err := specFromFlags(name, description, triggerJSON, actionsJSON, enabled)
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				updated, err := c.Workflows.Update(ctx, id, spec)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&triggerJSON, "trigger-json", "", "trigger definition")
	cmd.Flags().StringVar(&actionsJSON, "actions-json", "", "action definitions")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("trigger-json")
	_ = cmd.MarkFlagRequired("actions-json")
	return cmd
}

func workflowDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				if err := c.Workflows.Remove(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", id)
				return nil
			})
		},
	}
	return cmd
}

func workflowExecutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions <id>",
		Short: "Show a workflow's execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				runs, err := c.Workflows.FetchExecutionHistory(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Triggered", "Completed"})
				for _, run := range runs {
					completed := ""
					if run.CompletedAt != nil {
						completed = run.CompletedAt.Local().Format("2006-01-02 15:04:05")
					}
					tw.AppendRow(table.Row{run.ID, run.Status, run.TriggeredAt.Local().Format("2006-01-02 15:04:05"), completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run a workflow immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
				exec, err := c.Workflows.RunNow(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(exec)
			})
		},
	}
	return cmd
}

func devCmd() *cobra.Command {
	dev := &cobra.Command{
		Use:    "dev",
		Short:  "Development helpers",
		Hidden: true,
	}
	dev.AddCommand(devStubCmd())
	return dev
}

func devStubCmd() *cobra.Command {
	var addr, secret string
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a local double of both remote services",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("FLOWDECK_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("a jwt secret is required (--jwt-secret or FLOWDECK_JWT_SECRET)")
			}
			handler, err := stubserver.New(stubserver.Config{JWTSecret: secret})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving service stub on http://%s (identity at %s, orchestrator at %s)\n",
				addr, stubserver.IdentityBasePath(), stubserver.OrchestratorBasePath())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 signing secret")
	return cmd
}

// --- helpers ---

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
