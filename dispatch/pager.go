package dispatch

import (
	"context"
	"database/sql"
	"fmt"
)

// ScanFunc turns the current row into a record.
type ScanFunc func(rows *sql.Rows) (interface{}, error)

// PostgresPager adapts a SQL query into a Pager. The query must accept the
// page bounds as placeholders, offset first:
//
//	SELECT id, email FROM subscribers WHERE list_id = 7 OFFSET $1 LIMIT $2
func PostgresPager(db *sql.DB, query string, scan ScanFunc) Pager {
	return func(ctx context.Context, offset, limit int) ([]interface{}, error) {
		rows, err := db.QueryContext(ctx, query, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("page query: %w", err)
		}
		defer rows.Close()

		var records []interface{}
		for rows.Next() {
			record, err := scan(rows)
			if err != nil {
				return nil, fmt.Errorf("scan row: %w", err)
			}
			records = append(records, record)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("page rows: %w", err)
		}
		return records, nil
	}
}
