package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/services"
)

// fieldError is one entry of a 422 response, located by its request part.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type validationErrors []fieldError

func (v *validationErrors) add(msg, typ string, loc ...string) {
	*v = append(*v, fieldError{Loc: loc, Msg: msg, Type: typ})
}

var errNotInteger = errors.New("not an integer")

// Accepted datetime layouts. Values without a zone are read as UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

// parseCreateTransaction decodes the POST /transaction body. A non-nil error
// means the body itself could not be read; shape problems are returned as
// validationErrors.
func parseCreateTransaction(r *http.Request) (services.CreateInput, validationErrors, error) {
	var (
		in    services.CreateInput
		verrs validationErrors
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return in, nil, err
	}

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		verrs.add("value is not a valid JSON object", "type_error.dict", "body")
		return in, verrs, nil
	}

	if raw, ok := present(fields, "client_id"); !ok {
		verrs.add("field required", "value_error.missing", "body", "client_id")
	} else if id, err := parseJSONInt(raw); err != nil {
		verrs.add("value is not a valid integer", "type_error.integer", "body", "client_id")
	} else {
		in.ClientID = id
	}

	if raw, ok := present(fields, "value"); !ok {
		verrs.add("field required", "value_error.missing", "body", "value")
	} else if v, err := core.ParseAmount(raw); err != nil {
		verrs.add("value is not a valid decimal", "type_error.decimal", "body", "value")
	} else {
		in.Value = v
	}

	if raw, ok := present(fields, "transaction_timestamp"); ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			verrs.add("invalid datetime format", "value_error.datetime", "body", "transaction_timestamp")
		} else if t, err := parseDateTime(s); err != nil {
			verrs.add("invalid datetime format", "value_error.datetime", "body", "transaction_timestamp")
		} else {
			in.Timestamp = &t
		}
	}

	if raw, ok := present(fields, "description"); ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			verrs.add("str type expected", "type_error.str", "body", "description")
		} else {
			in.Description = &s
		}
	}

	return in, verrs, nil
}

// present returns the raw field unless it is absent or JSON null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return nil, false
	}
	return raw, true
}

// parseJSONInt accepts an integral JSON number or a string holding one.
func parseJSONInt(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return 0, errNotInteger
	}
	if !d.Equal(decimal.NewFromInt(d.IntPart())) {
		return 0, errNotInteger
	}
	return d.IntPart(), nil
}

func parsePathID(r *http.Request, verrs *validationErrors) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil {
		verrs.add("value is not a valid integer", "type_error.integer", "path", "id")
	}
	return id
}

func parsePathDate(r *http.Request, name string, verrs *validationErrors) time.Time {
	t, err := parseDateTime(r.PathValue(name))
	if err != nil {
		verrs.add("invalid datetime format", "value_error.datetime", "path", name)
	}
	return t
}

func parseRangeRequest(r *http.Request) (int64, core.Range, validationErrors) {
	var verrs validationErrors
	id := parsePathID(r, &verrs)
	start := parsePathDate(r, "date_initial", &verrs)
	end := parsePathDate(r, "date_end", &verrs)
	return id, core.NewRange(start, end), verrs
}
