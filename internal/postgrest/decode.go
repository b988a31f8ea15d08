package postgrest

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

// decodeError turns an error reply into a datastore.Error. Bodies that are
// not PostgREST errors get the status text.
func decodeError(resp *response) error {
	var e datastore.Error
	if err := json.Unmarshal(resp.body, &e); err != nil || e.Message == "" {
		return &datastore.Error{
			Message: http.StatusText(resp.status),
			Code:    strconv.Itoa(resp.status),
		}
	}
	return &e
}

func decodeResult(resp *response, q *datastore.Query) (*datastore.Result, error) {
	res := &datastore.Result{Rows: []map[string]any{}, Count: contentRangeTotal(resp.header.Get("Content-Range"))}

	body := bytes.TrimSpace(resp.body)
	if len(body) == 0 {
		if q.Single {
			return nil, datastore.SingleRowError(0)
		}
		return res, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if q.Single {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return nil, &datastore.Error{Message: "invalid object in store response", Details: err.Error()}
		}
		res.Rows = append(res.Rows, row)
		return res, nil
	}
	if err := dec.Decode(&res.Rows); err != nil {
		return nil, &datastore.Error{Message: "invalid rows in store response", Details: err.Error()}
	}
	if res.Rows == nil {
		res.Rows = []map[string]any{}
	}
	return res, nil
}

// contentRangeTotal reads the total of "0-24/3573". An unknown total ("*")
// yields nil.
func contentRangeTotal(h string) *int {
	_, total, ok := strings.Cut(h, "/")
	if !ok || total == "*" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil {
		return nil
	}
	return &n
}
