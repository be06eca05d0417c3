package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opphound/opphound/internal/app"
	"github.com/opphound/opphound/internal/logging"
)

var (
	serveConfigPath string
	serveListenAddr string
	serveDBPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline API server",
	Long: `Start the HTTP API, scan manager and discovery coordinator.

The server exposes portal registration, scan control and a WebSocket
event stream per scan. Configuration is read from a YAML file; flags
override its listen address and database path.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address override (e.g. :8080)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "SQLite database path override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.ListenAddr = serveListenAddr
	}
	if serveDBPath != "" {
		cfg.DBPath = serveDBPath
	}

	logger := logging.NewStdoutLogger("OppHound")

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring application: %w", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
