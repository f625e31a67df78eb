package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the ideas table using plainto_tsquery and ts_rank,
// with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "i.fts @@ " + tsQuery
	if q.FilterState != "" {
		where += fmt.Sprintf(" AND i.state = $%d", argN)
		args = append(args, q.FilterState)
		argN++
	}
	if q.FilterField != "" {
		where += fmt.Sprintf(" AND i.fields ? $%d", argN)
		args = append(args, q.FilterField)
		argN++
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM ideas i WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT i.id, i.idea_name,
			ts_headline('english', coalesce(i.summary, i.problem, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			i.state, i.readiness_level, i.fields
		FROM ideas i
		WHERE %s
		ORDER BY ts_rank(i.fts, %s) DESC
		LIMIT %d OFFSET %d`,
		tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var fieldsJSON []byte
		if err := rows.Scan(&r.ID, &r.IdeaName, &r.Snippet, &r.State, &r.ReadinessLevel, &fieldsJSON); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if len(fieldsJSON) > 0 {
			_ = json.Unmarshal(fieldsJSON, &r.Fields)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable ideas for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IdeaRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, idea_name, problem, solution, coalesce(summary, ''), state, readiness_level, fields
		FROM ideas
	`)
	if err != nil {
		return nil, fmt.Errorf("load ideas: %w", err)
	}
	defer rows.Close()

	records := make([]IdeaRecord, 0)
	for rows.Next() {
		var rec IdeaRecord
		var fieldsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.IdeaName, &rec.Problem, &rec.Solution, &rec.Summary, &rec.State, &rec.ReadinessLevel, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		if len(fieldsJSON) > 0 {
			_ = json.Unmarshal(fieldsJSON, &rec.Fields)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return records, nil
}
