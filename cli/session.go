package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headlessweb/hweb/session"
)

func newSessionCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Save, restore and manage browser sessions",
	}
	cmd.AddCommand(
		newSessionSaveCommand(v),
		newSessionRestoreCommand(v),
		newSessionListCommand(v),
		newSessionDeleteCommand(v),
	)
	return cmd
}

func sessionStore(v *viper.Viper) *session.FileStore {
	return session.NewFileStore(v.GetString("session-dir"))
}

func newSessionSaveCommand(v *viper.Viper) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Capture the page state into a named session",
		Args:  cobra.ExactArgs(1),
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
				s.browser.WaitForPageReady(s.timeout)
			}

			record := session.Capture(cmd.Context(), s.browser, args[0])
			if err := sessionStore(v).Save(record); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s saved %q (%d components)\n",
				okMark("✓"), record.Name, record.ComponentCount())
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "navigate here before capturing")
	return cmd
}

func newSessionRestoreCommand(v *viper.Viper) *cobra.Command {
	var continueOnError bool

	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore a saved session into the page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := sessionStore(v).Load(args[0])
			if err != nil {
				return err
			}

			s, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer s.close()

			restorer := session.NewRestorer(s.logger, session.Options{
				StepTimeout:     s.timeout,
				ContinueOnError: continueOnError,
			})
			result := restorer.Restore(s.browser, record)
			if !result.Succeeded {
				return unmet("restored %d/%d components, failed: %s",
					result.Restored, result.Total, strings.Join(result.Failed, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s restored %q (%d/%d components)\n",
				okMark("✓"), result.Session, result.Restored, result.Total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep restoring after a component fails")
	return cmd
}

func newSessionListCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := sessionStore(v).List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newSessionDeleteCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sessionStore(v).Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okMark("✓"), "deleted", args[0])
			return nil
		},
	}
}
