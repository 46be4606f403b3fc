package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/koenvaneijk/zenllm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models with known pricing",
	Long: "Print the pricing catalog used for cost estimation, including any\n" +
		"entries loaded from ZENLLM_PRICING_FILE. Prices are USD per million tokens.",
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tINPUT $/M\tOUTPUT $/M")
	for _, provider := range zenllm.PricingCatalog() {
		for _, model := range provider.Models {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\n",
				provider.ProviderName, model.ModelID, model.InputPrice, model.OutputPrice)
		}
	}
	return w.Flush()
}
