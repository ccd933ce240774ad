package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/lsattracker/internal/dashboard"
	"github.com/pavelanni/lsattracker/internal/handler"
	appI18n "github.com/pavelanni/lsattracker/internal/i18n"
	"github.com/pavelanni/lsattracker/internal/metrics"
	"github.com/pavelanni/lsattracker/internal/model"
	"github.com/pavelanni/lsattracker/internal/store"
	"github.com/pavelanni/lsattracker/internal/transformer"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lsattracker",
		Short:        "LSAT practice-exam tracker",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), uploadCmd(), statsCmd(), examsCmd(),
		exportCmd(), deleteExamCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `lsattracker --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every command shares.
func commonFlags(f *pflag.FlagSet) {
	f.String("db", "lsattracker.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func transformerFlags(f *pflag.FlagSet) {
	f.String("transformer-url", "", "PDF transformer endpoint (e.g. http://localhost:8000/transform)")
	f.Duration("transformer-timeout", 2*time.Minute, "Transformer request timeout")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	transformerFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Int64("max-upload-bytes", 50<<20, "Maximum accepted upload size in bytes")
	f.Duration("session-ttl", store.DefaultSessionTTL, "Sign-in session lifetime")
	f.Duration("cleanup-interval", time.Hour, "How often expired sessions are removed")
	f.String("admin-password", "", "Initial admin password (or set LSATTRACKER_ADMIN_PASSWORD)")
	return cmd
}

// setup builds the command's config and installs the default logger.
func setup(cmd *cobra.Command) *viper.Viper {
	v := viperForCmd(cmd)

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(v.GetString("log-format"), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return v
}

// viperForCmd binds a command's flags, .env file and environment to a fresh
// viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	// Variables already set in the environment win over .env entries.
	_ = godotenv.Load()

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LSATTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lsattracker")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lsattracker")
	v.AddConfigPath("/etc/lsattracker")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newTransformer builds the transformer client, or returns nil when no URL
// is configured.
func newTransformer(v *viper.Viper) (dashboard.Transformer, error) {
	url := strings.TrimSpace(v.GetString("transformer-url"))
	if url == "" {
		return nil, nil
	}
	c, err := transformer.New(url, v.GetDuration("transformer-timeout"))
	if err != nil {
		return nil, fmt.Errorf("create transformer client: %w", err)
	}
	return c, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tf, err := newTransformer(v)
	if err != nil {
		return err
	}
	if c, ok := tf.(*transformer.Client); ok {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("transformer health check failed, PDF uploads may fail", "error", err)
		} else {
			slog.Info("transformer endpoint OK", "url", v.GetString("transformer-url"))
		}
	} else {
		slog.Info("no transformer configured, PDF upload disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := model.AppConfig{
		TransformerURL: v.GetString("transformer-url"),
		SecureCookies:  v.GetBool("secure-cookies"),
		MaxUploadBytes: v.GetInt64("max-upload-bytes"),
		SessionTTL:     v.GetDuration("session-ttl"),
	}
	h := handler.New(db, tf, metrics.New(reg), cfg)
	go h.RunJanitor(ctx, v.GetDuration("cleanup-interval"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"transformer_url", cfg.TransformerURL,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"session_ttl", cfg.SessionTTL,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or LSATTRACKER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
