package main

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded migration jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.Jobs.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(jobs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Jobs to list")
	return cmd
}
