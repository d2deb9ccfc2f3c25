package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// interaction runs one confirmed page interaction: navigate if asked,
// run the operation, and report through the exit code.
func interaction(v *viper.Viper, url *string, name string, op func(s *cliSession) bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		s, err := connect(cmd.Context(), v)
		if err != nil {
			return err
		}
		defer s.close()

		if *url != "" {
			if !s.browser.NavigateAndWait(*url, s.timeout) {
				return unmet("navigation to %s did not complete within %v", *url, s.timeout)
			}
		}

		_, span := s.tracer.TraceOperation(cmd.Context(), "cli", name)
		defer span.End()

		done := s.metrics.TrackWait(name)
		ok := op(s)
		done(ok)
		if !ok {
			return unmet("%s was not confirmed by the page within %v", name, s.timeout)
		}
		fmt.Fprintln(cmd.OutOrStdout(), okMark("✓"), name)
		return nil
	}
}

func newFillCommand(v *viper.Viper) *cobra.Command {
	var (
		url    string
		submit bool
	)

	cmd := &cobra.Command{
		Use:   "fill <selector> <value>",
		Short: "Fill an input and wait for the page to confirm it",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return interaction(v, &url, "fill_input", func(s *cliSession) bool {
			if !s.browser.FillInput(args[0], args[1], s.timeout) {
				return false
			}
			if submit {
				return s.browser.SubmitForm(args[0], s.timeout)
			}
			return true
		})(c, args)
	}

	cmd.Flags().StringVar(&url, "url", "", "navigate here first")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit the enclosing form after filling")
	return cmd
}

func newClickCommand(v *viper.Viper) *cobra.Command {
	var (
		url      string
		navigate bool
	)

	cmd := &cobra.Command{
		Use:   "click <selector>",
		Short: "Click an element and wait for the page to confirm it",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return interaction(v, &url, "click_element", func(s *cliSession) bool {
			if !s.browser.ClickElement(args[0], s.timeout) {
				return false
			}
			if navigate {
				return s.browser.WaitForNavigation(s.timeout)
			}
			return true
		})(c, args)
	}

	cmd.Flags().StringVar(&url, "url", "", "navigate here first")
	cmd.Flags().BoolVar(&navigate, "wait-navigation", false, "wait for a navigation triggered by the click")
	return cmd
}
