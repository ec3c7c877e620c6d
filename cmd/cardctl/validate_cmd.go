package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/mohammadpnp/card-ingest/internal/application/validation"
)

var errValidationFailed = errors.New("validation found issues")

func newValidateCmd(root *rootOptions) *cobra.Command {
	var opts validation.Options

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Audit stored cards and prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("cards") && !flags.Changed("prices") && !flags.Changed("fk") &&
				!flags.Changed("integrity") && !flags.Changed("sets") {
				sample := opts.SampleSize
				opts = validation.AllChecks()
				opts.SampleSize = sample
			}

			a, err := root.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Validation.Validate(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := writeJSON(report); err != nil {
				return err
			}
			if !report.Passed() {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Cards, "cards", false, "Check card fields")
	cmd.Flags().BoolVar(&opts.Prices, "prices", false, "Check price fields")
	cmd.Flags().BoolVar(&opts.ForeignKeys, "fk", false, "Check price rows reference a card")
	cmd.Flags().BoolVar(&opts.Integrity, "integrity", false, "Check duplicates and dates")
	cmd.Flags().BoolVar(&opts.Sets, "sets", false, "Check set consistency")
	cmd.Flags().IntVar(&opts.SampleSize, "sample-size", 0, "Limit price checks to this many rows (0 means all)")
	return cmd
}
