// This file implements utilities for parsing and validating HTTP request data.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledger/internal/core"
)

const (
	maxBodyBytes = 1 << 20
	dateLayout   = "2006-01-02"
)

var (
	// errBadRequest marks malformed requests (400) as opposed to well formed
	// requests the ledger rejects (422).
	errBadRequest = errors.New("bad request")
	errEmptyBody  = fmt.Errorf("%w: empty request body", errBadRequest)
)

// decodeJSON reads exactly one JSON object from the body into dst. Unknown
// fields are rejected. Amount parse failures keep their validation class.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return errEmptyBody
		case errors.Is(err, core.ErrValidation):
			return err
		default:
			return fmt.Errorf("%w: malformed JSON: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON object", errBadRequest)
	}
	return nil
}

// ParseDateRange reads the reporting range from the query string.
//
//	?month=2025-03              the whole month
//	?from=2025-03-01&to=2025-03-31  both days inclusive
//
// A missing bound defaults to the edge of now's month.
func ParseDateRange(query url.Values, now time.Time) (core.DateRange, error) {
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		p, err := core.ParsePeriod(v)
		if err != nil {
			return core.DateRange{}, err
		}
		return p.Range(), nil
	}

	r := core.PeriodOf(now.UTC()).Range()
	if v := strings.TrimSpace(query.Get("from")); v != "" {
		from, err := time.Parse(dateLayout, v)
		if err != nil {
			return core.DateRange{}, fmt.Errorf("%w: from %q", core.ErrInvalidRange, v)
		}
		r.From = from
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		to, err := time.Parse(dateLayout, v)
		if err != nil {
			return core.DateRange{}, fmt.Errorf("%w: to %q", core.ErrInvalidRange, v)
		}
		r.To = to.AddDate(0, 0, 1)
	}
	return r, r.Validate()
}

// parseBoolQuery reads an optional boolean query parameter.
func parseBoolQuery(query url.Values, key string, def bool) (bool, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s must be true or false", core.ErrValidation, key)
	}
	return b, nil
}

// sanitizeTransaction strips control characters from free text fields.
func sanitizeTransaction(in core.NewTransaction) core.NewTransaction {
	in.Description = sanitizeInput(in.Description)
	in.Category = sanitizeInput(in.Category)
	in.Subcategory = sanitizeOptional(in.Subcategory)
	in.Merchant = sanitizeOptional(in.Merchant)
	return in
}

func sanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}
