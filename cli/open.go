package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newOpenCommand(v *viper.Viper) *cobra.Command {
	var (
		waitReady bool
		waitIdle  bool
	)

	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Navigate to a URL and wait for the load to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer s.close()

			url := args[0]
			navCtx, navSpan := s.tracer.TraceNavigation(cmd.Context(), "cli", url)
			defer navSpan.End()

			done := s.metrics.TrackWait("navigation")
			ok := s.browser.NavigateAndWait(url, s.timeout)
			done(ok)
			if !ok {
				return unmet("navigation to %s did not complete within %v", url, s.timeout)
			}

			if waitReady && !s.browser.WaitForPageReady(s.timeout) {
				return unmet("page did not reach full readiness within %v", s.timeout)
			}
			if waitIdle && !s.browser.WaitForNetworkIdle(0, s.timeout) {
				return unmet("network did not go idle within %v", s.timeout)
			}

			title, err := s.browser.Title(navCtx)
			if err != nil {
				title = ""
			}
			current, err := s.browser.CurrentURL(navCtx)
			if err != nil {
				current = url
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s", okMark("✓"), current)
			if title != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " %s", infoMark(title))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&waitReady, "ready", false, "also wait for full page readiness")
	cmd.Flags().BoolVar(&waitIdle, "network-idle", false, "also wait for the network to go idle")
	return cmd
}
