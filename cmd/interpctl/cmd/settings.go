package cmd

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/interpreter-runtime/pkg/api"
)

// settingsCmd represents the settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect interpreter settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured settings",
	RunE:  runSettingsList,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show <setting-id>",
	Short: "Show a setting with its groups, sessions and workers",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsShow,
}

var propertiesCmd = &cobra.Command{
	Use:   "properties",
	Short: "Manage setting properties",
}

var propertiesSetCmd = &cobra.Command{
	Use:   "set <setting-id> <key> <value>",
	Short: "Set a property; workers see it from their next start",
	Args:  cobra.ExactArgs(3),
	RunE:  runPropertiesSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsShowCmd)

	rootCmd.AddCommand(propertiesCmd)
	propertiesCmd.AddCommand(propertiesSetCmd)
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	var settings []api.SettingResponse
	if err := callAPI("GET", "/v1/settings", nil, &settings); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), settings, func(t *tablewriter.Table) {
		t.Header("ID", "Name", "Group", "Per Note", "Per User", "Capabilities")
		for _, s := range settings {
			names := make([]string, 0, len(s.Capabilities))
			for _, c := range s.Capabilities {
				name := c.Name
				if c.Default {
					name += "*"
				}
				names = append(names, name)
			}
			t.Append(s.ID, s.Name, s.Group, string(s.Option.PerNote), string(s.Option.PerUser), strings.Join(names, ","))
		}
	})
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	var s api.SettingResponse
	if err := callAPI("GET", "/v1/settings/"+url.PathEscape(args[0]), nil, &s); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), s, func(t *tablewriter.Table) {
		t.Header("Group", "State", "Sessions", "Worker", "PID", "CPU", "RSS", "Uptime")
		for _, g := range s.Groups {
			worker, pid, cpu, rss, uptime := "-", "-", "-", "-", "-"
			if p := g.Process; p != nil {
				worker = p.ID
				pid = fmt.Sprintf("%d", p.PID)
				if p.Stats != nil {
					cpu = fmt.Sprintf("%.1f%%", p.Stats.CPUPercent)
					rss = fmt.Sprintf("%.1f MiB", float64(p.Stats.RSSBytes)/(1<<20))
					uptime = p.Stats.Uptime.Round(time.Second).String()
				}
			}
			t.Append(g.Key, string(g.State), strings.Join(g.Sessions, ","), worker, pid, cpu, rss, uptime)
		}
	})
}

func runPropertiesSet(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/settings/%s/properties/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
	var props map[string]string
	if err := callAPI("PUT", path, api.PropertyRequest{Value: args[2]}, &props); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), props, func(t *tablewriter.Table) {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t.Header("Key", "Value")
		for _, k := range keys {
			t.Append(k, props[k])
		}
	})
}
