package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SolrConfig configures a SolrExecutor.
type SolrConfig struct {
	// URL is the core URL, e.g. "http://localhost:8983/solr/biblio".
	URL     string
	Timeout time.Duration
	IDField string
}

// SolrExecutor runs queries against a Solr core's /select handler.
type SolrExecutor struct {
	base    string
	idField string
	client  *http.Client
}

// StatusError is returned for non-2xx Solr responses.
type StatusError struct {
	StatusCode int
	Msg        string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("solr: status %d", e.StatusCode)
	}
	return fmt.Sprintf("solr: status %d: %s", e.StatusCode, e.Msg)
}

func NewSolrExecutor(cfg SolrConfig) (*SolrExecutor, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("solr: url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("solr: invalid url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idField := cfg.IDField
	if idField == "" {
		idField = "id"
	}
	return &SolrExecutor{
		base:    base,
		idField: idField,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type solrResponse struct {
	ResponseHeader struct {
		Status int `json:"status"`
	} `json:"responseHeader"`
	Response struct {
		NumFound int              `json:"numFound"`
		Docs     []map[string]any `json:"docs"`
	} `json:"response"`
	Error *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error,omitempty"`
}

func (s *SolrExecutor) params(q Query) url.Values {
	v := url.Values{}
	lookfor := q.Lookfor()
	if lookfor == "" {
		lookfor = "*:*"
	}
	v.Set("q", lookfor)
	for _, f := range q.Filters {
		v.Add("fq", f)
	}
	for _, f := range q.HiddenFilters {
		v.Add("fq", f)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		v.Set("rows", strconv.Itoa(q.Limit))
	}
	v.Set("wt", "json")
	return v
}

func (s *SolrExecutor) Execute(ctx context.Context, q Query) (Page, error) {
	u := s.base + "/select?" + s.params(q).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, fmt.Errorf("solr: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("solr: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Page{}, fmt.Errorf("solr: read body: %w", err)
	}

	var sr solrResponse
	decodeErr := json.Unmarshal(body, &sr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		if decodeErr == nil && sr.Error != nil {
			se.Msg = sr.Error.Msg
		}
		return Page{}, se
	}
	if decodeErr != nil {
		return Page{}, fmt.Errorf("solr: decode response: %w", decodeErr)
	}
	if sr.ResponseHeader.Status != 0 {
		return Page{}, &StatusError{StatusCode: sr.ResponseHeader.Status}
	}

	page := Page{
		Records: make([]Record, 0, len(sr.Response.Docs)),
		Total:   sr.Response.NumFound,
		// Solr applies the requested sort verbatim.
		SortedBy: q.Sort,
	}
	for _, d := range sr.Response.Docs {
		page.Records = append(page.Records, Doc{IDField: s.idField, Fields: d})
	}
	return page, nil
}
