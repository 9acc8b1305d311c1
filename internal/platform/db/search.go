package db

import (
	"fmt"
	"strings"
)

// SearchQuery builds a filtered, paginated SELECT with positional arguments.
// Every repository list/search goes through it so count and data queries
// always share the same WHERE clause.
type SearchQuery struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a SearchQuery over from (a table or join expression).
func NewSearchQuery(from, cols string) *SearchQuery {
	return &SearchQuery{
		from: from,
		cols: cols,
		idx:  1,
	}
}

// Idx returns the next available parameter index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a raw WHERE fragment (without leading "AND"). Placeholders in
// clause are written as "?" and renumbered.
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	for range args {
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", q.idx), 1)
		q.idx++
	}
	q.where += " AND " + clause
	q.args = append(q.args, args...)
}

// AddEq adds "column = value".
func (q *SearchQuery) AddEq(column string, value interface{}) {
	q.Add(column+" = ?", value)
}

// AddContains adds a case-insensitive substring match.
func (q *SearchQuery) AddContains(column, value string) {
	q.Add(column+" ILIKE ?", ContainsPattern(value))
}

// AddPrefix adds a case-insensitive prefix match.
func (q *SearchQuery) AddPrefix(column, value string) {
	q.Add(column+" ILIKE ?", PrefixPattern(value))
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the search args followed by limit and offset.
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

// ContainsPattern escapes s for a LIKE substring match.
func ContainsPattern(s string) string {
	return "%" + escapeLike(s) + "%"
}

// PrefixPattern escapes s for a LIKE prefix match.
func PrefixPattern(s string) string {
	return escapeLike(s) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
