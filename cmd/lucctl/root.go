package main

import (
	"encoding/json"
	"fmt"

	"lucledger/internal/cli"
	"lucledger/internal/config"
	"lucledger/internal/database"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var flagJSON bool

var rootCmd = &cobra.Command{
	Use:           "lucctl",
	Short:         "LUC ledger admin CLI",
	Long:          "Inspect LUC sessions, receipts and meter audit rows, and manage pricing overrides directly against the ledger database.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetLevel(log.WarnLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print raw JSON instead of tables")
	rootCmd.AddCommand(sessionCmd, receiptCmd, meterEventsCmd, pricingCmd, tokenCmd)
}

// openStore 按服务端同样的配置打开数据库
func openStore() (*config.Config, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

func renderer(cmd *cobra.Command) *cli.Renderer {
	return cli.NewRenderer(cmd.OutOrStdout())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
