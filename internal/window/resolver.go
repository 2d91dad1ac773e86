package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"searchalert/internal/search"
)

// ErrMissingCursor is wrapped by a QueryError when a record has no value for
// the cursor field. This is a data or configuration fault, never "no change".
var ErrMissingCursor = errors.New("record has no value for cursor field")

// QueryError reports that results could not be retrieved or were malformed.
// Callers must not advance the subscription's last-run time on a QueryError.
type QueryError struct {
	SearchID string
	Err      error
}

func (e *QueryError) Error() string {
	if e.SearchID == "" {
		return "query error: " + e.Err.Error()
	}
	return fmt.Sprintf("query error (search %s): %v", e.SearchID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Run holds the inputs of one subscription evaluation.
type Run struct {
	SearchID      string
	CursorField   string
	LastExecution time.Time
	Limit         int
}

// field resolves CursorField through ConfiguredCursor, so blank means DefaultField.
func (r Run) field() string { return ConfiguredCursor(r.CursorField).Field() }

type Kind int

const (
	NoChange Kind = iota
	NewRecords
)

func (k Kind) String() string {
	switch k {
	case NoChange:
		return "no_change"
	case NewRecords:
		return "new_records"
	default:
		return "unknown"
	}
}

// Window is the inclusive range [Start, End] on Field.
type Window struct {
	Field string
	Start time.Time
	End   time.Time

	cal Calendar
}

// Filter renders the window as an inclusive range filter,
// e.g. "first_indexed:[2021-04-16T14:00:00Z TO 2021-04-16T15:00:00Z]".
func (w Window) Filter() string {
	if w.Field == "" {
		return ""
	}
	return w.Field + ":[" + w.cal.Format(w.Start) + " TO " + w.cal.Format(w.End) + "]"
}

// Outcome is the result of resolving one run.
//
// For NewRecords, Records is non-empty and Query is the executed query with
// the window applied as a hidden filter, for building result links.
// For NoChange, Window and Query are zero; Newest is set when a page was seen.
type Outcome struct {
	Kind    Kind
	Window  Window
	Records []search.Record
	Query   search.Query
	Newest  time.Time
}

// Resolver fetches the newest results of a saved search and computes the
// notification window.
type Resolver struct {
	exec search.Executor
	cal  Calendar
}

func NewResolver(exec search.Executor, cal Calendar) *Resolver {
	return &Resolver{exec: exec, cal: cal}
}

// Resolve executes q sorted by the cursor field descending and evaluates the
// page. Retrieval failures are returned as *QueryError and are not retried.
func (r *Resolver) Resolve(ctx context.Context, run Run, q search.Query) (Outcome, error) {
	q = q.WithSort(run.field() + " desc")
	if run.Limit > 0 {
		q = q.WithLimit(run.Limit)
	}
	page, err := r.exec.Execute(ctx, q)
	if err != nil {
		return Outcome{}, &QueryError{SearchID: run.SearchID, Err: err}
	}
	return Evaluate(r.cal, run, q, page)
}

// Evaluate computes the outcome for a page that has already been fetched.
//
// A record is new when its cursor value is >= run.LastExecution (equal counts
// as new). When page.SortedBy confirms descending order on the cursor field,
// the scan stops at the first stale record; otherwise every record is checked.
// page is never modified.
func Evaluate(cal Calendar, run Run, q search.Query, page search.Page) (Outcome, error) {
	if len(page.Records) == 0 {
		return Outcome{Kind: NoChange}, nil
	}
	field := run.field()
	last := cal.Normalize(run.LastExecution)
	sorted := sortedDesc(page.SortedBy, field)

	var end time.Time
	if sorted {
		v, err := cursorValue(cal, page.Records[0], field)
		if err != nil {
			return Outcome{}, &QueryError{SearchID: run.SearchID, Err: err}
		}
		end = v
	} else {
		for _, rec := range page.Records {
			v, err := cursorValue(cal, rec, field)
			if err != nil {
				return Outcome{}, &QueryError{SearchID: run.SearchID, Err: err}
			}
			if v.After(end) {
				end = v
			}
		}
	}

	if end.Before(last) {
		return Outcome{Kind: NoChange, Newest: end}, nil
	}

	w := Window{Field: field, Start: last, End: end, cal: cal}

	records := make([]search.Record, 0, len(page.Records))
	for _, rec := range page.Records {
		v, err := cursorValue(cal, rec, field)
		if err != nil {
			return Outcome{}, &QueryError{SearchID: run.SearchID, Err: err}
		}
		if v.Before(last) {
			if sorted {
				break
			}
			continue
		}
		records = append(records, rec)
	}

	return Outcome{
		Kind:    NewRecords,
		Window:  w,
		Records: records,
		Query:   q.WithHiddenFilter(w.Filter()),
		Newest:  end,
	}, nil
}

func cursorValue(cal Calendar, rec search.Record, field string) (time.Time, error) {
	raw, ok := rec.Value(field)
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("record %s: %w %q", rec.ID(), ErrMissingCursor, field)
	}
	t, err := cal.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("record %s: field %q: %w", rec.ID(), field, err)
	}
	return t, nil
}

func sortedDesc(sortedBy, field string) bool {
	clause, _, _ := strings.Cut(sortedBy, ",")
	parts := strings.Fields(clause)
	if len(parts) < 2 {
		return false
	}
	return parts[0] == field && strings.EqualFold(parts[1], "desc")
}
