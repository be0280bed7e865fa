// Package templates holds the HTML fragments returned to HTMX callers.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// ErrorAlert renders a dismissible error box with the user message, the
// suggested action and the error code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert" data-code="%s"><p class="alert-message">%s</p>`,
			templ.EscapeString(code), templ.EscapeString(message))
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, `<p class="alert-code">Error code: %s</p></div>`, templ.EscapeString(code))
		return err
	})
}

// ImportSummary is the view model for a finished import.
type ImportSummary struct {
	Source      string
	Format      string
	Created     int
	Attachments int
	Skipped     int
	Duration    string
}

// ImportResult renders the outcome of an import.
func ImportResult(s ImportSummary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		source := s.Source
		if source == "" {
			source = "upload"
		}
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-success" role="status"><p>Imported <strong>%d</strong> products from %s (%s) in %s.</p>`,
			s.Created, templ.EscapeString(source), templ.EscapeString(s.Format), templ.EscapeString(s.Duration))
		if err != nil {
			return err
		}
		if s.Attachments > 0 {
			if _, err := fmt.Fprintf(w, `<p>%d images attached.</p>`, s.Attachments); err != nil {
				return err
			}
		}
		if s.Skipped > 0 {
			if _, err := fmt.Fprintf(w, `<p class="muted">%d empty rows skipped.</p>`, s.Skipped); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `</div>`)
		return err
	})
}

// PurgeResult renders the outcome of a bulk delete.
func PurgeResult(deleted int64, batches int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-success" role="status"><p>Deleted <strong>%d</strong> products in %d batches.</p></div>`,
			deleted, batches)
		return err
	})
}
