// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recipestore/internal/account"
	"recipestore/internal/catalog"
	"recipestore/internal/config"
	"recipestore/internal/data"
	"recipestore/internal/email"
	"recipestore/internal/events"
	"recipestore/internal/logger"
	"recipestore/internal/payos"
	"recipestore/internal/security"
	"recipestore/internal/server"
)

func init() {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err == nil {
		time.Local = loc
	}
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recipestore",
		Short:         "Recipe storefront API with premium subscriptions",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server and background jobs", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Create or upgrade the database schema", RunE: runMigrate},
		seedCmd(),
		userCmd(),
		&cobra.Command{Use: "reconcile", Short: "Check pending orders against PayOS once", RunE: runReconcile},
		&cobra.Command{Use: "cleanup", Short: "Expire stale orders, premium plans and sessions once", RunE: runCleanup},
	)
	return root
}

// app holds what every command needs after startup.
type app struct {
	cfg     *config.Config
	catalog *catalog.Service
	events  events.Publisher
	server  *server.Server
}

// bootstrap loads configuration, sets up logging and opens the database.
func bootstrap() (*config.Config, error) {
	// Step 1: Setup configuration first
	config.LoadEnv()

	// Step 2: Setup logging
	if err := logger.SetupLogger(config.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.LogInfo("Environment loaded. Logger ready.")

	// Step 3: Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.LogCurrentEnvironment()

	// Step 4: Open the database
	if err := data.InitDB(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := data.CreateTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return cfg, nil
}

// newApp wires the catalog, gateway, mailer and event publisher into a server.
func newApp() (*app, error) {
	cfg, err := bootstrap()
	if err != nil {
		return nil, err
	}

	cat := catalog.NewService()
	if err := cat.Load(cfg.Catalog.PlansPath); err != nil {
		return nil, err
	}

	pub, err := events.New(cfg.NATS.URL)
	if err != nil {
		return nil, err
	}

	gateway := payos.NewClient(cfg.PayOS.ClientID, cfg.PayOS.APIKey, cfg.PayOS.ChecksumKey, cfg.PayOS.APIBase)
	mailer := email.NewMailer(cfg.Email)

	return &app{
		cfg:     cfg,
		catalog: cat,
		events:  pub,
		server:  server.New(cfg, cat, gateway, mailer, pub),
	}, nil
}

func (a *app) close() {
	if err := a.events.Close(); err != nil {
		logger.LogWarn("Failed to drain event publisher: %v", err)
	}
	if err := data.CloseDB(); err != nil {
		logger.LogWarn("Failed to close database: %v", err)
	}
	logger.Sync()
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.server.Run(ctx)
}

func runMigrate(*cobra.Command, []string) error {
	if _, err := bootstrap(); err != nil {
		return err
	}
	defer data.CloseDB()
	logger.LogInfo("Database schema is up to date")
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.server.Reconciler.ReconcilePending(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked=%d paid=%d closed=%d errors=%d\n",
		result.Checked, result.Paid, result.Closed, result.Errors)
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	report := a.server.Cleanup.RunOnce(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "expired_orders=%d downgraded_users=%d deleted_sessions=%d\n",
		report.ExpiredOrders, report.DowngradedUsers, report.DeletedSessions)
	return nil
}

func seedCmd() *cobra.Command {
	var adminEmail, adminPassword, adminName string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Validate the plans catalog and create the first admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			defer data.CloseDB()

			cat := catalog.NewService()
			if err := cat.Load(cfg.Catalog.PlansPath); err != nil {
				return err
			}
			for _, p := range cat.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "plan %-10s %-20s %s %s / %d days\n",
					p.ID, p.Name, p.FinalPrice.String(), p.Currency, p.DurationDays)
			}

			if adminEmail == "" {
				return nil
			}
			return seedAdmin(cmd.Context(), account.NormalizeEmail(adminEmail), adminPassword, adminName)
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "email of the admin account to create")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "password of the admin account")
	cmd.Flags().StringVar(&adminName, "admin-name", "Administrator", "display name of the admin account")
	return cmd
}

func seedAdmin(ctx context.Context, email, password, name string) error {
	if existing, err := data.GetUserByEmail(ctx, email); err == nil {
		if existing.Role != data.RoleAdmin {
			if err := data.UpdateUserRole(ctx, existing.ID, data.RoleAdmin); err != nil {
				return err
			}
		}
		logger.LogInfo("Admin account %s already exists", email)
		return nil
	} else if !errors.Is(err, data.ErrNotFound) {
		return err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	u := &data.User{Email: email, PasswordHash: hash, FullName: name, Role: data.RoleAdmin}
	if err := data.InsertUser(ctx, u); err != nil {
		return err
	}
	logger.LogInfo("Created admin account %s (%s)", email, u.ID)
	return nil
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage user accounts"}

	var email, role string
	roleCmd := &cobra.Command{
		Use:   "role",
		Short: "Set a user's role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			role = strings.ToLower(strings.TrimSpace(role))
			if role != data.RoleUser && role != data.RoleChef && role != data.RoleAdmin {
				return fmt.Errorf("role must be user, chef or admin, got %q", role)
			}
			if _, err := bootstrap(); err != nil {
				return err
			}
			defer data.CloseDB()

			u, err := data.GetUserByEmail(cmd.Context(), account.NormalizeEmail(email))
			if err != nil {
				return fmt.Errorf("look up %s: %w", email, err)
			}
			if err := data.UpdateUserRole(cmd.Context(), u.ID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Email, role)
			return nil
		},
	}
	roleCmd.Flags().StringVar(&email, "email", "", "email of the user")
	roleCmd.Flags().StringVar(&role, "role", "", "user, chef or admin")
	roleCmd.MarkFlagRequired("email")
	roleCmd.MarkFlagRequired("role")

	user.AddCommand(roleCmd)
	return user
}
