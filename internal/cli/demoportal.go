package cli

import (
	"github.com/spf13/cobra"

	"github.com/opphound/opphound/internal/demoserver"
)

var demoPortalPort int

var demoPortalCmd = &cobra.Command{
	Use:   "demo-portal",
	Short: "Run a fake procurement portal for local testing",
	Long: `Serve a small procurement portal with a bid listing, detail pages
and a login form. The listing contents can be changed at runtime via
/demo/bump so change detection between scans has something to report.`,
	RunE: runDemoPortal,
}

func init() {
	demoPortalCmd.Flags().IntVar(&demoPortalPort, "port", demoserver.DefaultConfig().Port, "Port to listen on")
	rootCmd.AddCommand(demoPortalCmd)
}

func runDemoPortal(cmd *cobra.Command, args []string) error {
	cfg := demoserver.DefaultConfig()
	cfg.Port = demoPortalPort
	return demoserver.NewDemoServer(cfg).Start()
}
