package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newPriorsCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "priors",
		Short: "Compute event uplift priors and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, _, _, err := buildPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			var cutoff time.Time
			if asOf != "" {
				cutoff, err = time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of date %q: %w", asOf, err)
				}
			}

			priors, err := p.Priors(cutoff)
			if err != nil {
				return err
			}

			families := make([]string, 0, len(priors))
			for family := range priors {
				families = append(families, family)
			}
			sort.Strings(families)

			tw := os.Stdout
			fmt.Fprintf(tw, "%-24s %10s %10s %8s %12s\n", "family", "raw", "shrunk", "n_days", "confidence")
			for _, family := range families {
				pr := priors[family]
				fmt.Fprintf(tw, "%-24s %10s %10s %8d %12s\n",
					family, fmtPtr(pr.UpliftMeanRaw), fmtPtr(pr.UpliftMeanShrunk), pr.NDays, pr.Confidence)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "Compute priors as of this date (YYYY-MM-DD, default: history end)")
	return cmd
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}
