package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
)

func newTablesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Print the table access policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authz, err := policy.NewAuthorizer()
			if err != nil {
				return err
			}
			rules := authz.Rules()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rules)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tPUBLIC READ\tELEVATED\tWRITES\tEMBEDS")
			for _, r := range rules {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.Table, yesNo(r.PublicRead), yesNo(r.Elevated), writeSummary(r), dash(strings.Join(r.Embeds, ",")))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func writeSummary(r policy.TableRules) string {
	var parts []string
	for _, m := range datastore.Methods() {
		if !m.IsWrite() {
			continue
		}
		if roles, ok := r.Gates[m.String()]; ok {
			parts = append(parts, m.String()+"="+strings.Join(roles, "|"))
		}
	}
	if len(parts) == 0 {
		return "authenticated"
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
