package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/colextract/internal/core"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
	"github.com/JonMunkholm/colextract/internal/services"
	"github.com/JonMunkholm/colextract/internal/web"
)

const timeLayout = "2006-01-02 15:04"

func projectPath(id string, parts ...string) string {
	return "/api/projects/" + url.PathEscape(id) + strings.Join(parts, "")
}

func jobPath(id string, parts ...string) string {
	return "/api/jobs/" + url.PathEscape(id) + strings.Join(parts, "")
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV file as a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				ProjectID string           `json:"project_id"`
				Project   core.ProjectInfo `json:"project"`
			}
			if err := opts.client().upload(cmd.Context(), args[0], name, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as %s (%d rows, %d columns)\n",
				resp.Project.Name, resp.ProjectID, resp.Project.Rows, len(resp.Project.Columns))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (default: file name)")
	return cmd
}

func newProjectsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var projects []core.ProjectInfo
			if err := opts.client().call(cmd.Context(), http.MethodGet, "/api/projects", nil, &projects); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROWS\tCOLUMNS\tCHANGES\tIMPORTED\tJOB")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					p.ID, p.Name, p.Rows, len(p.Columns), p.Head, p.CreatedAt.Local().Format(timeLayout), p.ActiveJob)
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Print a page of a project's table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("%s?offset=%d&limit=%d", projectPath(args[0]), offset, limit)
			var resp web.ProjectResponse
			if err := opts.client().call(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d rows)\n\n", resp.Project.Name, resp.Table.Total)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\t"+strings.Join(resp.Table.Columns, "\t"))
			for i, row := range resp.Table.Rows {
				fmt.Fprintf(tw, "%d\t%s\n", resp.Table.Offset+i+1, strings.Join(row, "\t"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "first row to show")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	return cmd
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().call(cmd.Context(), http.MethodDelete, projectPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Download a project's current table as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().request(cmd.Context(), http.MethodGet, projectPath(args[0], "/export"), nil, "")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if _, err := io.Copy(w, resp.Body); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newExtractCmd(opts *globalOptions) *cobra.Command {
	var (
		column      string
		serviceList []string
		filters     []string
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "extract <project>",
		Short: "Run extraction services over a column",
		Long: `Run one or more extraction services over every selected row of a column.
Each service's values land in a new column next to the source.

Filters are written column:operator:value. Operators: contains, eq, starts,
ends, gt, gte, lt, lte, in (comma-separated values), blank, notblank.

Examples:
  colextract extract <project> --column Notes --service emails --service urls
  colextract extract <project> --column Notes --service emails --filter Status:eq:open --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := core.ExtractionRequest{Column: column, Services: serviceList}
			for _, f := range filters {
				cf, err := rowfilter.Parse(f)
				if err != nil {
					return err
				}
				req.Filters = append(req.Filters, cf)
			}

			c := opts.client()
			var started map[string]string
			if err := c.call(cmd.Context(), http.MethodPost, projectPath(args[0], "/extract"), req, &started); err != nil {
				return err
			}
			jobID := started["job_id"]
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started job %s\n", jobID)
			if !wait {
				return nil
			}
			return waitForJob(cmd, c, jobID)
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "source column name")
	cmd.Flags().StringSliceVar(&serviceList, "service", nil, "service to run (repeatable)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "row filter column:operator:value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "follow progress until the job finishes")
	_ = cmd.MarkFlagRequired("column")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

// waitForJob prints progress events and then the job's result.
func waitForJob(cmd *cobra.Command, c *client, jobID string) error {
	out := cmd.OutOrStdout()
	resp, err := c.request(cmd.Context(), http.MethodGet, jobPath(jobID, "/progress"), nil, "")
	if err != nil {
		return err
	}
	err = readEvents(resp.Body, func(ev event) bool {
		if ev.Name != "progress" {
			return ev.Name != "complete"
		}
		var p core.JobProgress
		if json.Unmarshal([]byte(ev.Data), &p) == nil {
			fmt.Fprintf(out, "\r%3d%%  %d failed calls", p.Percent, p.Failures)
		}
		return true
	})
	resp.Body.Close()
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("progress stream: %w", err)
	}

	var res core.JobResult
	if err := c.call(cmd.Context(), http.MethodGet, jobPath(jobID, "/result"), nil, &res); err != nil {
		return err
	}
	return printResult(out, res)
}

func printResult(out io.Writer, res core.JobResult) error {
	switch res.Phase {
	case core.PhaseComplete:
		desc := ""
		if res.Entry != nil {
			desc = res.Entry.Description
		}
		fmt.Fprintf(out, "Job %s complete in %s: %s\n", res.JobID, res.Duration, desc)
		return nil
	case core.PhaseCancelled:
		fmt.Fprintf(out, "Job %s cancelled; the table is unchanged\n", res.JobID)
		return nil
	}
	return fmt.Errorf("job %s %s: %s", res.JobID, res.Phase, res.Error)
}

func newJobCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job>",
		Short: "Show an extraction job's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p core.JobProgress
			if err := opts.client().call(cmd.Context(), http.MethodGet, jobPath(args[0]), nil, &p); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s on %s\n", p.JobID, p.ProjectID)
			fmt.Fprintf(out, "  column:   %s\n", p.Column)
			fmt.Fprintf(out, "  services: %s\n", strings.Join(p.Services, ", "))
			fmt.Fprintf(out, "  phase:    %s (%d%%)\n", p.Phase, p.Percent)
			fmt.Fprintf(out, "  failures: %d\n", p.Failures)
			if p.Error != "" {
				fmt.Fprintf(out, "  error:    %s\n", p.Error)
			}
			return nil
		},
	}
}

func newCancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job>",
		Short: "Cancel a running extraction job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().call(cmd.Context(), http.MethodPost, jobPath(args[0], "/cancel"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for %s\n", args[0])
			return nil
		},
	}
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <project>",
		Short: "List a project's changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info core.HistoryInfo
			if err := opts.client().call(cmd.Context(), http.MethodGet, projectPath(args[0], "/history"), nil, &info); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tSTATE\tWHEN\tDESCRIPTION")
			for _, e := range info.Entries {
				state := "applied"
				if !e.Applied {
					state = "undone"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Seq, state, e.CreatedAt.Local().Format(timeLayout), e.Description)
			}
			return tw.Flush()
		},
	}
}

func newUndoCmd(opts *globalOptions) *cobra.Command {
	return historyMoveCmd(opts, "undo", "Revert the project's latest change", "Undid")
}

func newRedoCmd(opts *globalOptions) *cobra.Command {
	return historyMoveCmd(opts, "redo", "Reapply the project's next undone change", "Redid")
}

func historyMoveCmd(opts *globalOptions, verb, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <project>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp web.HistoryMoveResponse
			if err := opts.client().call(cmd.Context(), http.MethodPost, projectPath(args[0], "/"+verb), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", done, resp.Entry.Description)
			return nil
		},
	}
}

func newServicesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect extraction services",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured services and their settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []services.Record
			if err := opts.client().call(cmd.Context(), http.MethodGet, "/api/services", nil, &records); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				state := "configured"
				if !r.Configured {
					state = "not configured"
				}
				fmt.Fprintf(out, "%s (%s, %s)\n", r.Name, r.Kind, state)
				if r.Documentation != "" {
					fmt.Fprintf(out, "  %s\n", r.Documentation)
				}
				keys := make([]string, 0, len(r.Settings))
				for k := range r.Settings {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s = %s\n", k, r.Settings[k])
				}
			}
			return nil
		},
	}

	kinds := &cobra.Command{
		Use:   "kinds",
		Short: "List the service kinds the server supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var kinds []string
			if err := opts.client().call(cmd.Context(), http.MethodGet, "/api/service-kinds", nil, &kinds); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(kinds, "\n"))
			return nil
		},
	}

	cmd.AddCommand(list, kinds)
	return cmd
}
