package engine

import "fmt"

// DBCmd identifies a named database operation, each table claims its own
// numeric range
type DBCmd int

// Query holds per-dialect variants of one SQL statement
type Query struct {
	Sqlite   string
	Postgres string
}

// QueryMap maps commands to their SQL, one entry per DBCmd
type QueryMap struct {
	queries map[DBCmd]Query
}

// NewQueryMap makes an empty QueryMap
func NewQueryMap() *QueryMap {
	return &QueryMap{queries: make(map[DBCmd]Query)}
}

// Add registers a command with separate sqlite and postgres statements
func (q *QueryMap) Add(cmd DBCmd, query Query) *QueryMap {
	q.queries[cmd] = query
	return q
}

// AddSame registers one statement shared by all dialects
func (q *QueryMap) AddSame(cmd DBCmd, query string) *QueryMap {
	return q.Add(cmd, Query{Sqlite: query, Postgres: query})
}

// Pick resolves the statement for a db type and command
func (q *QueryMap) Pick(dbType Type, cmd DBCmd) (string, error) {
	query, ok := q.queries[cmd]
	if !ok {
		return "", fmt.Errorf("unsupported command type %d", cmd)
	}

	switch dbType {
	case Sqlite:
		return query.Sqlite, nil
	case Postgres:
		return query.Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}
