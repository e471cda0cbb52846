// File: cmd/status.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/state"
)

// newStatusCmd creates the `status` command, a read-only view of the
// persisted monitor state. It never touches the browser or the targets.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted monitor state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			store, err := state.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize state store: %w", err)
			}
			if closer, ok := store.(io.Closer); ok {
				defer closer.Close()
			}

			st, found, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load monitor state: %w", err)
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "No persisted monitor state found. Run `suture-cli watch` first.")
				return nil
			}

			if asJSON {
				data, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to serialize state: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	statusCmd.Flags().BoolVar(&asJSON, "json", false, "Print the full state as JSON")
	return statusCmd
}

// printStatus renders the human summary.
func printStatus(w io.Writer, st *schemas.SystemState) {
	fmt.Fprintf(w, "System status:    %s\n", st.SystemStatus)
	fmt.Fprintf(w, "Cycles completed: %d\n", st.CycleCount)
	fmt.Fprintf(w, "Errors detected:  %d\n", st.TotalErrorsDetected)
	fmt.Fprintf(w, "Errors fixed:     %d\n", st.TotalErrorsFixed)
	fmt.Fprintf(w, "Open issues:      %d\n", len(st.CurrentErrors))

	if st.LastSuccessfulCycle.IsZero() {
		fmt.Fprintf(w, "Last clean cycle: never\n")
	} else {
		fmt.Fprintf(w, "Last clean cycle: %s (%s ago)\n",
			st.LastSuccessfulCycle.UTC().Format(time.RFC3339),
			time.Since(st.LastSuccessfulCycle).Round(time.Second))
	}
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "State updated:    %s\n", st.UpdatedAt.UTC().Format(time.RFC3339))
	}

	if len(st.CurrentErrors) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tSIGNATURE\tTARGET\tATTEMPTS\tFIRST SEEN")
	for _, issue := range st.CurrentErrors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%s\t%s\n",
			issue.Severity,
			issue.Signature,
			issue.TargetURL,
			issue.RepairAttempts,
			attemptedStrategies(issue),
			issue.DetectedAt.UTC().Format(time.RFC3339))
	}
	tw.Flush()
}

// attemptedStrategies compacts the strategy list for the table; "-" when
// nothing has been tried yet.
func attemptedStrategies(issue schemas.Issue) string {
	if len(issue.StrategiesTried) == 0 {
		return "-"
	}
	return strings.Join(issue.StrategiesTried, ",")
}
