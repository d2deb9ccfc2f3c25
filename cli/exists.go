package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headlessweb/hweb/browser"
)

func newExistsCommand(v *viper.Viper) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "exists <selector>",
		Short: "Check whether a selector matches an element",
		Long: "Probes the page for the selector and reports the outcome in\n" +
			"the exit code: 0 when an element matches, 1 when none does,\n" +
			"2 when the selector itself is invalid.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer s.close()

			if url != "" {
				if !s.browser.NavigateAndWait(url, s.timeout) {
					return unmet("navigation to %s did not complete within %v", url, s.timeout)
				}
			}

			selector := args[0]
			probe, err := s.browser.ElementExistsWithValidation(cmd.Context(), selector)
			if err != nil {
				return err
			}
			switch probe {
			case browser.ElementFound:
				fmt.Fprintln(cmd.OutOrStdout(), okMark("✓"), selector)
				return nil
			case browser.SelectorInvalid:
				return &exitError{code: codeError, msg: fmt.Sprintf("invalid selector %q", selector)}
			default:
				return unmet("no element matches %q", selector)
			}
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "navigate here first")
	return cmd
}
