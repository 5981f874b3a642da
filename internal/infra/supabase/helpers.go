package supabase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/varejoflow/crm-automation/internal/domain"
)

// ============================================================
// PostgREST query builder
// ============================================================

type query struct {
	table  string
	params url.Values
}

func from(table string) *query {
	return &query{table: table, params: url.Values{}}
}

func (q *query) eq(col, val string) *query {
	q.params.Add(col, "eq."+val)
	return q
}

func (q *query) isNull(col string) *query {
	q.params.Add(col, "is.null")
	return q
}

// ilike matches col against *pattern* case-insensitively. The pattern is
// literal: LIKE wildcards in it are escaped or dropped.
func (q *query) ilike(col, pattern string) *query {
	q.params.Add(col, "ilike.*"+ilikeEscaper.Replace(pattern)+"*")
	return q
}

var ilikeEscaper = strings.NewReplacer(`\`, `\\`, "_", `\_`, "*", "", "%", "", ",", " ", "(", " ", ")", " ")

func (q *query) order(col string, ascending bool) *query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.params.Add("order", col+"."+dir)
	return q
}

func (q *query) limit(n int) *query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

func (q *query) offset(n int) *query {
	q.params.Set("offset", strconv.Itoa(n))
	return q
}

func (q *query) page(page, pageSize int) *query {
	return q.limit(pageSize).offset((page - 1) * pageSize)
}

func (q *query) selectCols(cols string) *query {
	q.params.Set("select", cols)
	return q
}

func (q *query) onConflict(cols ...string) *query {
	q.params.Set("on_conflict", strings.Join(cols, ","))
	return q
}

func (q *query) String() string {
	if len(q.params) == 0 {
		return q.table
	}
	return q.table + "?" + q.params.Encode()
}

// ============================================================
// Response helpers
// ============================================================

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRows(resource string, body []byte, out any) error {
	if len(body) == 0 {
		body = []byte("[]")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + resource, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// first returns the first row or ErrNotFound.
func first[T any](rows []T, resource, id string) (*T, error) {
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return &rows[0], nil
}
