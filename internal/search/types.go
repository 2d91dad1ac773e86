package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Record is one matched document.
//
// Value returns the raw value of a field. For multi-valued fields the value
// returned is the newest one: dates compare as instants, other values as text. ok is false when the record has no value for the field.
type Record interface {
	ID() string
	Value(field string) (v string, ok bool)
}

// Page is one result page as returned by an Executor.
//
// SortedBy names the sort the backend actually applied ("first_indexed desc");
// it is empty when the executor cannot vouch for the order of Records.
type Page struct {
	Records  []Record
	Total    int
	SortedBy string
}

// Executor runs queries against the search backend.
// Implementations are expected to honor ctx deadlines.
type Executor interface {
	Execute(ctx context.Context, q Query) (Page, error)
}

// Query is a saved search plus the parameters the notifier controls.
//
// Query values are treated as immutable: the With* helpers return copies.
type Query struct {
	// Params holds the user's search parameters (lookfor, type, ...) as saved.
	Params url.Values

	Filters       []string
	HiddenFilters []string
	Sort          string
	Limit         int
}

// ParseQuery parses a saved search in URL query form, e.g.
// "lookfor=climate&type=AllFields&filter[]=format:Book".
//
// "filter[]"/"filter" values become Filters, "hiddenFilters[]" become HiddenFilters,
// "sort" and "limit" are lifted into their fields; everything else stays in Params.
func ParseQuery(raw string) (Query, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return Query{}, fmt.Errorf("parse saved search: %w", err)
	}
	q := Query{Params: url.Values{}}
	for k, vs := range vals {
		switch k {
		case "filter[]", "filter":
			q.Filters = append(q.Filters, vs...)
		case "hiddenFilters[]":
			q.HiddenFilters = append(q.HiddenFilters, vs...)
		case "sort":
			if len(vs) > 0 {
				q.Sort = vs[0]
			}
		case "limit":
			if len(vs) > 0 {
				n, err := strconv.Atoi(vs[0])
				if err != nil {
					return Query{}, fmt.Errorf("parse saved search: invalid limit %q", vs[0])
				}
				q.Limit = n
			}
		default:
			q.Params[k] = append([]string(nil), vs...)
		}
	}
	return q, nil
}

func (q Query) clone() Query {
	cp := q
	cp.Params = url.Values{}
	for k, vs := range q.Params {
		cp.Params[k] = append([]string(nil), vs...)
	}
	cp.Filters = append([]string(nil), q.Filters...)
	cp.HiddenFilters = append([]string(nil), q.HiddenFilters...)
	return cp
}

func (q Query) WithSort(sort string) Query {
	cp := q.clone()
	cp.Sort = sort
	return cp
}

func (q Query) WithLimit(n int) Query {
	cp := q.clone()
	cp.Limit = n
	return cp
}

func (q Query) WithHiddenFilter(f string) Query {
	cp := q.clone()
	cp.HiddenFilters = append(cp.HiddenFilters, f)
	return cp
}

// Lookfor returns the main search string ("lookfor", falling back to "q").
func (q Query) Lookfor() string {
	if v := strings.TrimSpace(q.Params.Get("lookfor")); v != "" {
		return v
	}
	return strings.TrimSpace(q.Params.Get("q"))
}

// Encode renders the query back to URL form, suitable for a results link.
func (q Query) Encode() string {
	v := url.Values{}
	for k, vs := range q.Params {
		v[k] = append([]string(nil), vs...)
	}
	for _, f := range q.Filters {
		v.Add("filter[]", f)
	}
	for _, f := range q.HiddenFilters {
		v.Add("hiddenFilters[]", f)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v.Encode()
}

// Doc is a Record backed by a decoded JSON document.
type Doc struct {
	IDField string
	Fields  map[string]any
}

func (d Doc) ID() string {
	f := d.IDField
	if f == "" {
		f = "id"
	}
	v, _ := d.Value(f)
	return v
}

func (d Doc) Value(field string) (string, bool) {
	raw, ok := d.Fields[field]
	if !ok || raw == nil {
		return "", false
	}
	switch x := raw.(type) {
	case string:
		return x, true
	case []any:
		vals := make([]string, 0, len(x))
		for _, it := range x {
			if it == nil {
				continue
			}
			vals = append(vals, fmt.Sprint(it))
		}
		if len(vals) == 0 {
			return "", false
		}
		return newest(vals), true
	case []string:
		if len(x) == 0 {
			return "", false
		}
		return newest(x), true
	default:
		return fmt.Sprint(x), true
	}
}

// newest returns the latest value. Values that parse as RFC 3339 compare as
// instants, so zone offsets are honored; anything else compares as text.
func newest(vals []string) string {
	best := vals[0]
	for _, v := range vals[1:] {
		if later(v, best) {
			best = v
		}
	}
	return best
}

func later(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.After(tb)
	}
	return a > b
}
