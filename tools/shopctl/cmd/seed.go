package cmd

import (
	"fmt"

	"github.com/modernmen/shopfront/tools/shopctl/internal/seed"
	"github.com/spf13/cobra"
)

var (
	seedFile        string
	seedConcurrency int
)

var seedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Create a tenant with its settings, services, stylists and admin login",
	Example: "  shopctl seed -f seed.yaml",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := seed.Load(seedFile)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := seed.NewSeeder(seed.NewPGStore(pool), logger, seedConcurrency).Run(ctx, f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tenant   %s (%s)\n", res.TenantID, f.Tenant.Slug)
		fmt.Fprintf(out, "admin    %s (%s)\n", res.AdminID, f.Admin.Email)
		fmt.Fprintf(out, "services %d\n", res.Services)
		fmt.Fprintf(out, "stylists %d\n", len(res.StylistIDs))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "seed.yaml", "seed file")
	seedCmd.Flags().IntVar(&seedConcurrency, "concurrency", 4, "parallel stylist inserts")
}
