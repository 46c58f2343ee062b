package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/bookshelf/apiclient"
	"github.com/aluiziolira/bookshelf/config"
	"github.com/aluiziolira/bookshelf/identity"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg      *config.Config
	metrics  *apiclient.Metrics
	store    *identity.SQLiteStore
	tokens   *identity.TokenSource
	sessions *identity.SessionProvider
	books    *apiclient.Books
	stop     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	a := &app{cfg: cfg}
	rootCmd := &cobra.Command{
		Use:           "bookshelf",
		Short:         "Command-line client for the bookshelf API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "bookshelf API base URL")
	flags.StringVar(&cfg.SessionDB, "session-db", cfg.SessionDB, "session database path")
	flags.StringVar(&cfg.IDToken, "token", cfg.IDToken, "use this ID token instead of the stored session")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP timeout")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")

	rootCmd.AddCommand(loginCmd(a))
	rootCmd.AddCommand(logoutCmd(a))
	rootCmd.AddCommand(whoamiCmd(a))
	rootCmd.AddCommand(booksCmd(a))
	rootCmd.AddCommand(searchCmd(a))
	rootCmd.AddCommand(requestCmd(a))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		a.close()
		os.Exit(1)
	}
}

func (a *app) init() error {
	logger, level := newLogger(a.cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.metrics = apiclient.NewMetrics()
	a.stop = serveMetrics(a.cfg.MetricsAddr, a.metrics)

	a.tokens = identity.NewTokenSource(identity.TokenSourceOptions{
		Endpoint:  a.cfg.TokenEndpoint,
		APIKey:    a.cfg.FirebaseAPIKey,
		Skew:      a.cfg.TokenSkew,
		CacheSize: a.cfg.TokenCacheSize,
		Observer:  a.metrics,
	})

	var provider identity.Provider
	if a.cfg.IDToken != "" {
		provider = identity.NewStaticProvider("", a.cfg.IDToken)
	} else {
		store, err := identity.OpenSQLiteStore(a.cfg.SessionDB)
		if err != nil {
			return err
		}
		a.store = store
		a.sessions = identity.NewSessionProvider(store, a.tokens)
		provider = a.sessions
	}

	transport := apiclient.NewHTTPTransport(apiclient.TransportOptions{
		Timeout:   a.cfg.Timeout,
		UserAgent: a.cfg.UserAgent,
		ProxyURL:  a.cfg.ProxyURL,
	})
	exec := apiclient.NewExecutor(provider, transport,
		apiclient.WithMetrics(a.metrics),
		apiclient.WithObserver(func(s apiclient.State) {
			slog.Debug("request state", slog.Bool("loading", s.Loading), slog.String("error", s.Error))
		}),
	)
	a.books = apiclient.NewBooks(exec, a.cfg.APIBaseURL)
	return nil
}

func (a *app) close() {
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("close session store", slog.Any("error", err))
		}
		a.store = nil
	}
}

// requireSessions fails for commands that need the session store when --token is used.
func (a *app) requireSessions() (*identity.SessionProvider, error) {
	if a.sessions == nil {
		return nil, fmt.Errorf("session commands are unavailable with --token")
	}
	return a.sessions, nil
}

func serveMetrics(addr string, metrics *apiclient.Metrics) func() {
	if addr == "" {
		return func() {}
	}

	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
