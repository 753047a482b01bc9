package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/esnunes/renderpilot/internal/config"
	"github.com/esnunes/renderpilot/internal/db"
	"github.com/esnunes/renderpilot/internal/htmlgen"
	"github.com/esnunes/renderpilot/internal/live"
	"github.com/esnunes/renderpilot/internal/models"
	"github.com/esnunes/renderpilot/internal/orchestrator"
	"github.com/esnunes/renderpilot/internal/provider"
	"github.com/esnunes/renderpilot/internal/server"
	"github.com/esnunes/renderpilot/internal/session"
	"github.com/esnunes/renderpilot/internal/telemetry"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "renderpilot"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var (
		g         globalFlags
		addr      string
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Turn visual mockups into confirmed HTML layouts",
		Long: `Renderpilot drives generated and uploaded visuals through an audited,
user-gated pipeline that ends in a live HTML sandbox. Every step is
recorded in a versioned revision ledger that survives restarts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(g, addr, !noBrowser)
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the browser on start")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(g, addr, !noBrowser)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the browser on start")

	cmd.AddCommand(serveCmd, ledgerCmd(&g), messagesCmd(&g), clearCmd(&g))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

// openStore opens the session database. The caller closes the returned handle.
func openStore(cfg *config.Config, logger *slog.Logger) (*session.Store, *sql.DB, error) {
	dbPath, err := db.DBPath(cfg.Session.DataDir)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Opened session database", "path", dbPath)
	return session.NewStore(db.NewQueries(database), logger), database, nil
}

func serve(g globalFlags, addr string, browser bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(g.logLevel)
	cfg, err := config.Load(g.configPath, logger)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	store, database, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	metrics := telemetry.New()
	conv := htmlgen.NewConverter()

	// Without credentials the app still starts; AI actions fail with a specific error.
	var (
		ai     provider.Provider
		dialer provider.LiveDialer
	)
	oa, err := provider.NewOpenAI(provider.Settings{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		ChatModel:   cfg.Provider.ChatModel,
		VisionModel: cfg.Provider.VisionModel,
		ImageModel:  cfg.Provider.ImageModel,
		Timeout:     cfg.Provider.Timeout,
	}, logger)
	switch {
	case errors.Is(err, provider.ErrMissingAPIKey):
		logger.Warn("No API key configured, AI actions are disabled", "env", config.APIKeyEnv)
	case err != nil:
		return fmt.Errorf("creating provider: %w", err)
	default:
		ai = oa
		rt, err := provider.NewRealtime(provider.RealtimeSettings{
			APIKey: cfg.APIKey,
			URL:    cfg.Provider.RealtimeURL,
			Model:  cfg.Provider.RealtimeModel,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating realtime provider: %w", err)
		}
		dialer = rt
	}

	sess := orchestrator.New(orchestrator.Options{
		Provider:   ai,
		Store:      store,
		Telemetry:  metrics,
		Converter:  conv,
		LedgerCap:  cfg.Session.LedgerCap,
		MessageCap: cfg.Session.MessageCap,
		Logger:     logger,
	})

	bridge := server.NewBridge(logger)
	mgr := live.New(live.Options{
		Dialer:       dialer,
		Devices:      bridge,
		Recorder:     sess,
		Context:      sess.SessionContext,
		Telemetry:    metrics,
		Logger:       logger,
		DefaultVoice: cfg.Session.DefaultVoice,
		InputRate:    cfg.Live.InputSampleRate,
		OutputRate:   cfg.Live.OutputSampleRate,
	})
	defer mgr.Stop()

	srv, err := server.New(server.Options{
		Session:   sess,
		Live:      mgr,
		Bridge:    bridge,
		Converter: conv,
		Telemetry: metrics,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if err := srv.Listen(addr); err != nil {
		return err
	}
	if browser {
		openBrowser("http://" + srv.Addr())
	}
	return srv.Serve(ctx)
}

func ledgerCmd(g *globalFlags) *cobra.Command {
	var (
		kind   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Print the persisted revision ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(g.logLevel)
			cfg, err := config.Load(g.configPath, logger)
			if err != nil {
				return err
			}
			store, database, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			var revs []models.Revision
			for _, r := range store.Load().Revisions {
				if kind == "" || string(r.Kind()) == kind {
					revs = append(revs, r)
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(revs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tTYPE\tCONFIRMED\tTIME\tDESCRIPTION")
			for _, r := range revs {
				line, _, _ := strings.Cut(r.Description, "\n")
				fmt.Fprintf(tw, "v%d\t%s\t%t\t%s\t%s\n", r.Version, r.Kind(), r.Confirmed, r.Timestamp.Format("2006-01-02 15:04:05"), line)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if saved, ok := store.SavedAt(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "\nLast saved %s UTC\n", saved.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "Only show revisions of this type (e.g. PRE_RENDER_AUDIT)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func messagesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "Print the persisted chat transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(g.logLevel)
			cfg, err := config.Load(g.configPath, logger)
			if err != nil {
				return err
			}
			store, database, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			out := cmd.OutOrStdout()
			for _, m := range store.Load().Messages {
				text := m.Text
				if text == "" && m.ImageURL != "" {
					text = "[image]"
				}
				source := ""
				if m.Source != "" {
					source = " (" + m.Source + ")"
				}
				fmt.Fprintf(out, "%s [%s]%s: %s\n", m.Role, m.Type, source, text)
			}
			return nil
		},
	}
}

func clearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted ledger and transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(g.logLevel)
			cfg, err := config.Load(g.configPath, logger)
			if err != nil {
				return err
			}
			store, database, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()
			store.Clear()
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared.")
			return nil
		},
	}
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}
	cmd.Start()
}
