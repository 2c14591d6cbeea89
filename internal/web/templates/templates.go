// Package templates renders the HTML pages and fragments served by the web
// package.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/colextract/internal/core"
)

const styles = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;font-size:.875rem}
th,td{border:1px solid #e5e7eb;padding:.25rem .5rem;text-align:left;vertical-align:top}
th{background:#f9fafb}
.alert{border:1px solid #fca5a5;background:#fef2f2;padding:.75rem;border-radius:.25rem}
.muted{color:#6b7280}
.undone{color:#9ca3af;text-decoration:line-through}`

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title><style>%s</style></head><body>`,
			templ.EscapeString(title), styles); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// ErrorAlert renders an error message with its suggested action and code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="alert" role="alert"><strong>%s</strong>`, templ.EscapeString(message))
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, ` <span>%s</span>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, ` <span class="muted">(%s)</span></div>`, templ.EscapeString(code))
		return err
	})
}

// ProjectList renders every project with its size and history head.
func ProjectList(projects []core.ProjectInfo) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h1>Projects</h1>`); err != nil {
			return err
		}
		if len(projects) == 0 {
			_, err := io.WriteString(w, `<p class="muted">No projects yet. Import a CSV file to start.</p>`)
			return err
		}
		if _, err := io.WriteString(w, `<table><thead><tr><th>Name</th><th>Rows</th><th>Columns</th><th>Changes</th><th>Imported</th></tr></thead><tbody>`); err != nil {
			return err
		}
		for _, p := range projects {
			name := templ.EscapeString(p.Name)
			if p.ActiveJob != "" {
				name += ` <span class="muted">(extracting)</span>`
			}
			if _, err := fmt.Fprintf(w, `<tr><td><a href="/projects/%s">%s</a></td><td>%d</td><td>%d</td><td>%d</td><td>%s</td></tr>`,
				templ.EscapeString(p.ID), name, p.Rows, len(p.Columns), p.Head,
				p.CreatedAt.Format("2006-01-02 15:04")); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</tbody></table>`)
		return err
	})
	return Layout("Projects", body)
}

// ProjectPage renders one page of a project's table followed by its history.
func ProjectPage(info core.ProjectInfo, page core.TablePage, hist core.HistoryInfo) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<p><a href="/">Projects</a></p><h1>%s</h1><p class="muted">%d rows, %d columns</p>`,
			templ.EscapeString(info.Name), info.Rows, len(info.Columns)); err != nil {
			return err
		}
		if err := renderTable(w, page); err != nil {
			return err
		}
		return renderHistory(w, hist)
	})
	return Layout(info.Name, body)
}

func renderTable(w io.Writer, page core.TablePage) error {
	if _, err := io.WriteString(w, `<table><thead><tr><th>#</th>`); err != nil {
		return err
	}
	for _, c := range page.Columns {
		if _, err := fmt.Fprintf(w, `<th>%s</th>`, templ.EscapeString(c)); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, `</tr></thead><tbody>`); err != nil {
		return err
	}
	for i, row := range page.Rows {
		if _, err := fmt.Fprintf(w, `<tr><td class="muted">%d</td>`, page.Offset+i+1); err != nil {
			return err
		}
		for _, cell := range row {
			if _, err := fmt.Fprintf(w, `<td>%s</td>`, templ.EscapeString(cell)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</tr>`); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, `</tbody></table>`); err != nil {
		return err
	}

	shown := page.Offset + len(page.Rows)
	if shown < page.Total {
		_, err := fmt.Fprintf(w, `<p><a href="?offset=%s">Next rows</a> <span class="muted">%d of %d shown</span></p>`,
			strconv.Itoa(shown), shown, page.Total)
		return err
	}
	return nil
}

func renderHistory(w io.Writer, hist core.HistoryInfo) error {
	if _, err := io.WriteString(w, `<h2>History</h2>`); err != nil {
		return err
	}
	if len(hist.Entries) == 0 {
		_, err := io.WriteString(w, `<p class="muted">No changes.</p>`)
		return err
	}
	if _, err := io.WriteString(w, `<ol>`); err != nil {
		return err
	}
	for _, e := range hist.Entries {
		class := ""
		if !e.Applied {
			class = ` class="undone"`
		}
		if _, err := fmt.Fprintf(w, `<li%s>%s <span class="muted">%s</span></li>`,
			class, templ.EscapeString(e.Description), e.CreatedAt.Format("2006-01-02 15:04:05")); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, `</ol>`)
	return err
}
