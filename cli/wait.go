package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWaitCommand(v *viper.Viper) *cobra.Command {
	var (
		url         string
		selector    string
		visible     bool
		count       int
		countOp     string
		attribute   string
		text        string
		condition   string
		idle        bool
		framework   string
		urlChange   string
		titleChange string
		request     string
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a page condition",
		Long: "Waits until the given condition holds, exiting 0 when it does\n" +
			"and 1 when the timeout expires first. Exactly one condition flag\n" +
			"must be set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, on := range []bool{selector != "", text != "", condition != "", idle, framework != "", urlChange != "", titleChange != "", request != ""} {
				if on {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --selector, --text, --condition, --network-idle, --framework, --url-change, --title-change, --request must be set")
			}
			if (cmd.Flags().Changed("count") || attribute != "") && selector == "" {
				return fmt.Errorf("--count and --attribute require --selector")
			}

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

			_, span := s.tracer.TraceOperation(cmd.Context(), "cli", "wait")
			defer span.End()

			var (
				kind string
				ok   bool
				out  string
			)
			started := time.Now()
			switch {
			case selector != "" && cmd.Flags().Changed("count"):
				kind = "element-count"
				out = fmt.Sprintf("%s %s %d", selector, countOp, count)
				ok = s.browser.WaitForElementCount(selector, countOp, count, s.timeout)
			case selector != "" && attribute != "":
				name, value, found := strings.Cut(attribute, "=")
				if !found {
					return fmt.Errorf("--attribute wants name=value, got %q", attribute)
				}
				kind, out = "attribute", fmt.Sprintf("%s[%s]", selector, attribute)
				ok = s.browser.WaitForAttribute(selector, name, value, s.timeout)
			case selector != "" && visible:
				kind, out = "selector", selector
				ok = s.browser.WaitForElementVisible(selector, s.timeout)
			case selector != "":
				kind, out = "selector", selector
				ok = s.browser.WaitForSelector(selector, s.timeout)
			case text != "":
				kind, out = "text", text
				ok = s.browser.WaitForText(text, s.timeout)
			case condition != "":
				kind, out = "condition", condition
				ok = s.browser.WaitForJSCondition(condition, s.timeout)
			case idle:
				kind, out = "network-idle", "network idle"
				ok = s.browser.WaitForNetworkIdle(0, s.timeout)
			case framework != "":
				kind, out = "framework", framework
				ok = s.browser.WaitForFrameworkReady(framework, s.timeout)
			case urlChange != "":
				kind, out = "url-change", urlChange
				ok = s.browser.WaitForURLChange(urlChange, s.timeout)
			case titleChange != "":
				kind, out = "title-change", titleChange
				ok = s.browser.WaitForTitleChange(titleChange, s.timeout)
			case request != "":
				kind = "request"
				matched := s.browser.WaitForRequest(request, s.timeout)
				ok, out = matched != "", matched
			}

			s.metrics.WaitsStarted.WithLabelValues(kind).Inc()
			s.metrics.ObserveWait(kind, started, ok)
			if !ok {
				return unmet("condition not met within %v", s.timeout)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okMark("✓"), out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&url, "url", "", "navigate here first")
	flags.StringVar(&selector, "selector", "", "wait for this selector to match")
	flags.BoolVar(&visible, "visible", false, "with --selector, require the element to be visible")
	flags.IntVar(&count, "count", 0, "with --selector, wait for this many matching elements")
	flags.StringVar(&countOp, "count-op", "==", "comparison for --count (==, !=, <, <=, >, >=)")
	flags.StringVar(&attribute, "attribute", "", "with --selector, wait for attribute name=value")
	flags.StringVar(&text, "text", "", "wait for this text to appear in the page")
	flags.StringVar(&condition, "condition", "", "wait for this JavaScript expression to be truthy")
	flags.BoolVar(&idle, "network-idle", false, "wait for the network to go idle")
	flags.StringVar(&framework, "framework", "", "wait for a JS framework to be ready (react, vue, angular, jquery)")
	flags.StringVar(&urlChange, "url-change", "", "wait for the URL to change (regexp or substring)")
	flags.StringVar(&titleChange, "title-change", "", "wait for the title to change (regexp or substring)")
	flags.StringVar(&request, "request", "", "wait for a network request matching this pattern")
	return cmd
}
