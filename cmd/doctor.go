package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/vendaflow/vendaflow/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("vendaflow doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Store:")
	fmt.Printf("    %-10s %s\n", "Driver:", cfg.Store.Driver)
	switch cfg.Store.Driver {
	case "", "file", "sqlite":
		fmt.Printf("    %-10s %s\n", "Path:", config.ExpandHome(cfg.Store.Path))
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			fmt.Printf("    %-10s VENDAFLOW_POSTGRES_DSN not set\n", "Status:")
			break
		}
		db, dbErr := sql.Open("pgx", cfg.Store.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", dbErr)
			break
		}
		if pingErr := db.Ping(); pingErr != nil {
			fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", pingErr)
		} else {
			fmt.Printf("    %-10s OK\n", "Status:")
		}
		db.Close()
	default:
		fmt.Printf("    %-10s unknown driver\n", "Status:")
	}

	fmt.Println()
	fmt.Println("  Channels:")
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Printf("    %-10s enabled (%s)\n", "WhatsApp:", cfg.Channels.WhatsApp.BridgeURL)
	} else {
		fmt.Printf("    %-10s disabled (set VENDAFLOW_WHATSAPP_BRIDGE_URL)\n", "WhatsApp:")
	}

	fmt.Println()
	fmt.Println("  Webhook:")
	fmt.Printf("    %-10s %s:%d\n", "Listen:", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("    %-10s %d req/min per source\n", "Limit:", cfg.Server.RateLimitRPM)

	if cfg.Telemetry.Enabled {
		fmt.Println()
		fmt.Println("  Telemetry:")
		fmt.Printf("    %-10s %s\n", "Endpoint:", cfg.Telemetry.Endpoint)
	}
}
