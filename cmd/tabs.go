// cmd/tabs.go
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/observability"
)

func newTabsCmd() *cobra.Command {
	var asJSON bool

	tabsCmd := &cobra.Command{
		Use:   "tabs",
		Short: "List the tabs of a running browser that can be attached to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Browser().DevToolsURL == "" {
				return fmt.Errorf("--devtools-url (or browser.devtools_url) is required to list tabs")
			}

			tabs, err := listTabs(ctx, cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if tabs == nil {
					tabs = []schemas.TabInfo{}
				}
				return enc.Encode(tabs)
			}
			return printTabs(cmd.OutOrStdout(), tabs)
		},
	}

	f := tabsCmd.Flags()
	f.BoolVar(&asJSON, "json", false, "Print tabs as JSON")
	f.String("devtools-url", "", "DevTools endpoint of a running browser")
	bindFlag(f, "devtools-url", "browser.devtools_url")
	return tabsCmd
}

func printTabs(w io.Writer, tabs []schemas.TabInfo) error {
	if len(tabs) == 0 {
		_, err := fmt.Fprintln(w, "No attachable tabs.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tATTACHED\tTITLE\tURL")
	for _, t := range tabs {
		attached := "no"
		if t.Attached {
			attached = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, attached, t.Title, t.URL)
	}
	return tw.Flush()
}
