//-------------------------------------------------------------------------
//
// pgEdge Sales ETL
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cast"

	"github.com/pgEdge/pgedge-salesetl/internal/etlerr"
	"github.com/pgEdge/pgedge-salesetl/internal/logging"
	"github.com/pgEdge/pgedge-salesetl/internal/model"
)

// HTTPDoer is satisfied by *http.Client and test doubles.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPReader fetches raw records from a JSON API.
type HTTPReader struct {
	url     string
	params  map[string]string
	headers map[string]string
	timeout time.Duration
	client  HTTPDoer
}

// NewHTTPReader creates an HTTP reader. A nil client uses a default
// client limited by the configured timeout.
func NewHTTPReader(cfg HTTPConfig, client HTTPDoer) *HTTPReader {
	timeout := timeoutOrDefault(cfg.Timeout)
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPReader{
		url:     cfg.URL,
		params:  cfg.Params,
		headers: cfg.Headers,
		timeout: timeout,
		client:  client,
	}
}

func newHTTPReader(cfg Config) (Reader, error) {
	if cfg.HTTP.URL == "" {
		return nil, fmt.Errorf("http source requires a url")
	}
	if _, err := url.Parse(cfg.HTTP.URL); err != nil {
		return nil, fmt.Errorf("invalid http source url: %w", err)
	}
	return NewHTTPReader(cfg.HTTP, nil), nil
}

// Read issues a GET request and decodes a JSON array of records, either
// at the top level or under a "data" key.
func (r *HTTPReader) Read(ctx context.Context) ([]model.RawRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range r.params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	logging.Debug().
		Str("url", req.URL.Redacted()).
		Dur("timeout", r.timeout).
		Msg("Fetching HTTP source")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "GET "+r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, etlerr.Errorf(etlerr.SourceUnavailable, "GET "+r.url,
			"unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "read body", err)
	}

	records, err := decodeJSONRecords(body)
	if err != nil {
		return nil, etlerr.New(etlerr.MalformedRecord, "decode body", err)
	}

	logging.Debug().
		Int("records", len(records)).
		Msg("Fetched HTTP source")

	return records, nil
}

func decodeJSONRecords(body []byte) ([]model.RawRecord, error) {
	body = bytes.TrimSpace(body)

	var rows []map[string]any
	if len(body) > 0 && body[0] == '{' {
		var envelope struct {
			Data []map[string]any `json:"data"`
		}
		if err := unmarshalNumbers(body, &envelope); err != nil {
			return nil, err
		}
		if envelope.Data == nil {
			return nil, fmt.Errorf("response object has no data array")
		}
		rows = envelope.Data
	} else if err := unmarshalNumbers(body, &rows); err != nil {
		return nil, err
	}

	records := make([]model.RawRecord, 0, len(rows))
	for i, row := range rows {
		var rec model.RawRecord
		for k, v := range row {
			s, err := valueToText(v)
			if err != nil {
				return nil, fmt.Errorf("record %d field %s: %w", i, k, err)
			}
			rec.Set(k, s)
		}
		records = append(records, rec)
	}
	return records, nil
}

// unmarshalNumbers decodes with json.Number so amounts keep their exact
// textual form.
func unmarshalNumbers(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// valueToText renders a decoded value as raw text. nil is missing.
func valueToText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case []byte:
		return string(x), nil
	case json.Number:
		return x.String(), nil
	case time.Time:
		return x.Format("2006-01-02 15:04:05"), nil
	case map[string]any, []any:
		return "", fmt.Errorf("nested values are not supported")
	}
	return cast.ToStringE(v)
}
