package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

var (
	journalSetting string
	journalGroup   string
	journalLimit   int
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect the execution journal",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interpret calls, newest first",
	RunE:  runExecutionsList,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect worker lifecycle events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worker lifecycle events",
	RunE:  runEventsList,
}

func init() {
	for _, c := range []*cobra.Command{executionsListCmd, eventsListCmd} {
		c.Flags().StringVarP(&journalSetting, "setting", "s", "", "filter by setting id")
		c.Flags().IntVarP(&journalLimit, "limit", "l", 20, "maximum number of entries")
	}
	eventsListCmd.Flags().StringVarP(&journalGroup, "group", "g", "", "filter by group key")

	rootCmd.AddCommand(executionsCmd)
	executionsCmd.AddCommand(executionsListCmd)
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
}

func journalQuery() url.Values {
	q := url.Values{}
	if journalSetting != "" {
		q.Set("setting", journalSetting)
	}
	if journalGroup != "" {
		q.Set("group", journalGroup)
	}
	q.Set("limit", strconv.Itoa(journalLimit))
	return q
}

func runExecutionsList(cmd *cobra.Command, args []string) error {
	var recs []models.ExecutionRecord
	if err := callAPI("GET", "/v1/executions?"+journalQuery().Encode(), nil, &recs); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), recs, func(t *tablewriter.Table) {
		t.Header("Started", "Setting", "Session", "Capability", "Paragraph", "Code", "Duration")
		for _, r := range recs {
			t.Append(
				r.StartedAt.Local().Format(time.DateTime),
				r.SettingID,
				r.SessionKey,
				r.Capability,
				r.ParagraphID,
				string(r.Code),
				r.Duration().Round(time.Millisecond).String(),
			)
		}
	})
}

func runEventsList(cmd *cobra.Command, args []string) error {
	var events []models.ProcessEvent
	if err := callAPI("GET", "/v1/processes/events?"+journalQuery().Encode(), nil, &events); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), events, func(t *tablewriter.Table) {
		t.Header("Time", "Setting", "Group", "Process", "Event", "PID", "Reason")
		for _, ev := range events {
			pid := "-"
			if ev.PID > 0 {
				pid = fmt.Sprintf("%d", ev.PID)
			}
			t.Append(
				ev.Timestamp.Local().Format(time.DateTime),
				ev.SettingID,
				ev.GroupKey,
				ev.ProcessID,
				string(ev.Type),
				pid,
				ev.ExitReason,
			)
		}
	})
}
