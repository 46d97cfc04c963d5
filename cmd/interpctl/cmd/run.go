package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/interpreter-runtime/pkg/api"
	"github.com/psantana5/interpreter-runtime/pkg/models"
)

var (
	runNotebook   string
	runCapability string
	runParagraph  string
)

var runCmd = &cobra.Command{
	Use:   "run <setting-id> [code]",
	Short: "Run code through a setting; reads stdin when code is omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRun,
}

var progressCmd = &cobra.Command{
	Use:   "progress <setting-id>",
	Short: "Show the progress of a paragraph",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close <setting-id>",
	Short: "Release the session of a user and notebook",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsClose,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, progressCmd, sessionsCloseCmd} {
		c.Flags().StringVarP(&runNotebook, "notebook", "n", "", "notebook id")
	}
	for _, c := range []*cobra.Command{runCmd, progressCmd} {
		c.Flags().StringVarP(&runCapability, "capability", "c", "", "capability name (default capability when empty)")
		c.Flags().StringVarP(&runParagraph, "paragraph", "p", "", "paragraph id")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsCloseCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	code := ""
	if len(args) == 2 {
		code = args[1]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read code from stdin: %w", err)
		}
		code = string(data)
	}

	req := api.InterpretRequest{
		User:        userID,
		Notebook:    runNotebook,
		Capability:  runCapability,
		Code:        code,
		ParagraphID: runParagraph,
	}
	var res models.Result
	if err := callAPI("POST", "/v1/settings/"+url.PathEscape(args[0])+"/interpret", req, &res); err != nil {
		return err
	}

	if outputFormat == "table" || outputFormat == "" {
		for _, m := range res.Messages {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(m.Data, "\n"))
		}
		if res.Code == models.CodeError {
			return fmt.Errorf("interpret returned %s", res.Code)
		}
		return nil
	}
	return render(cmd.OutOrStdout(), res, nil)
}

func runProgress(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("notebook", runNotebook)
	if runCapability != "" {
		q.Set("capability", runCapability)
	}
	if runParagraph != "" {
		q.Set("paragraph", runParagraph)
	}
	if userID != "" {
		q.Set("user", userID)
	}

	var resp api.ProgressResponse
	if err := callAPI("GET", "/v1/settings/"+url.PathEscape(args[0])+"/progress?"+q.Encode(), nil, &resp); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), resp, func(t *tablewriter.Table) {
		t.Header("Setting", "Paragraph", "Progress")
		t.Append(args[0], runParagraph, fmt.Sprintf("%d%%", resp.Progress))
	})
}

func runSessionsClose(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("notebook", runNotebook)
	if userID != "" {
		q.Set("user", userID)
	}
	if err := callAPI("DELETE", "/v1/settings/"+url.PathEscape(args[0])+"/sessions?"+q.Encode(), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session closed for setting %s\n", args[0])
	return nil
}
