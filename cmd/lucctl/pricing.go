package main

import (
	"fmt"

	"lucledger/internal/billing"
	"lucledger/internal/cli"
	"lucledger/internal/repository"

	"github.com/spf13/cobra"
)

var (
	flagInput  float64
	flagOutput float64
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Manage per-model pricing overrides (USD per million tokens)",
}

var pricingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List overrides merged from the database and pricing file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		store := billing.NewPriceStore(repository.NewPricingRepository(db))
		if err := store.LoadFromDB(cmd.Context()); err != nil {
			return err
		}
		if cfg.Pricing.File != "" {
			if err := store.LoadFile(cfg.Pricing.File); err != nil {
				renderer(cmd).Warn(err.Error())
			}
		}

		prices := store.ListPrices()
		if flagJSON {
			return printJSON(cmd, prices)
		}
		rows := make([][]string, 0, len(prices))
		for _, p := range prices {
			rows = append(rows, []string{
				p.Model,
				fmt.Sprintf("%.2f", p.PriceData.InputCostPerMillion),
				fmt.Sprintf("%.2f", p.PriceData.OutputCostPerMillion),
				p.Source,
			})
		}
		renderer(cmd).Table(cli.Table{
			Title:   "Pricing overrides",
			Headers: []string{"model", "input/M", "output/M", "source"},
			Rows:    rows,
		})
		return nil
	},
}

var pricingSetCmd = &cobra.Command{
	Use:   "set <model>",
	Short: "Create or update a database override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		var in, out *float64
		if cmd.Flags().Changed("input") {
			in = &flagInput
		}
		if cmd.Flags().Changed("output") {
			out = &flagOutput
		}
		store := billing.NewPriceStore(repository.NewPricingRepository(db))
		price, err := store.SetPrice(cmd.Context(), args[0], in, out)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd, price)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: $%.2f/M blended\n", price.Model, price.PriceData.Blended())
		return nil
	},
}

var pricingDeleteCmd = &cobra.Command{
	Use:   "delete <model>",
	Short: "Remove a database override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.NewPricingRepository(db).Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted override for %s\n", args[0])
		return nil
	},
}

func init() {
	pricingSetCmd.Flags().Float64Var(&flagInput, "input", 0, "Input cost, USD per million tokens")
	pricingSetCmd.Flags().Float64Var(&flagOutput, "output", 0, "Output cost, USD per million tokens")
	pricingCmd.AddCommand(pricingListCmd, pricingSetCmd, pricingDeleteCmd)
}
