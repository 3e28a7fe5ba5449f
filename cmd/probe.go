package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsharvest/internal/probe"
)

func newProbeCmd() *cobra.Command {
	var opts probe.Options
	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "Diagnose whether a site can be harvested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := appInstance.Prober.Probe(cmd.Context(), args[0], opts)
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&opts.BypassHead, "bypass-head", false, "skip the HEAD request")
	cmd.Flags().StringVar(&opts.DomainHint, "domain-hint", "", "record the diagnosis under this domain")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-request timeout (defaults to fetch.timeout)")
	return cmd
}
