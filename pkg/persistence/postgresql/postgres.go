// Package postgresql provides PostgreSQL persistence implementation for workflows and agents.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Persistence implements persistence.Store on a single JSONB records table.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = sqlbase.NewMigrator(logger, database, migrations()).Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger.With("module", "postgresql"),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Create(ctx context.Context, kind persistence.Kind, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewRecordError("Create", kind, id, fmt.Errorf("failed to marshal record: %w", err))
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO records (kind, id, data, created_at, updated_at) VALUES ($1, $2, $3::jsonb, NOW(), NOW())`,
		string(kind), id, string(data),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRecordError("Create", kind, id, persistence.ErrAlreadyExists)
		}

		return persistence.NewRecordError("Create", kind, id, err)
	}

	return nil
}

func (p *Persistence) Put(ctx context.Context, kind persistence.Kind, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewRecordError("Put", kind, id, fmt.Errorf("failed to marshal record: %w", err))
	}

	query := `
		INSERT INTO records (kind, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		ON CONFLICT (kind, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query, string(kind), id, string(data))
	if err != nil {
		return persistence.NewRecordError("Put", kind, id, err)
	}

	return nil
}

func (p *Persistence) Get(ctx context.Context, kind persistence.Kind, id string, dest any) error {
	var data []byte

	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE kind = $1 AND id = $2`,
		string(kind), id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewRecordError("Get", kind, id, persistence.ErrNotFound)
		}

		return persistence.NewRecordError("Get", kind, id, err)
	}

	err = json.Unmarshal(data, dest)
	if err != nil {
		return persistence.NewRecordError("Get", kind, id, fmt.Errorf("failed to decode record: %w", err))
	}

	return nil
}

// Update merges the top-level fields into the stored document; arrays are replaced, not appended.
func (p *Persistence) Update(ctx context.Context, kind persistence.Kind, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return persistence.NewRecordError("Update", kind, id, fmt.Errorf("failed to marshal fields: %w", err))
	}

	result, err := p.db.ExecContext(ctx,
		`UPDATE records SET data = data || $3::jsonb, updated_at = NOW() WHERE kind = $1 AND id = $2`,
		string(kind), id, string(patch),
	)
	if err != nil {
		return persistence.NewRecordError("Update", kind, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("Update", kind, id, err)
	}

	if affected == 0 {
		return persistence.NewRecordError("Update", kind, id, persistence.ErrNotFound)
	}

	return nil
}

func (p *Persistence) Increment(ctx context.Context, kind persistence.Kind, id, field string, by int64, fields map[string]any) error {
	if err := persistence.ValidateField(field); err != nil {
		return persistence.NewRecordError("Increment", kind, id, err)
	}

	if fields == nil {
		fields = map[string]any{}
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return persistence.NewRecordError("Increment", kind, id, fmt.Errorf("failed to marshal fields: %w", err))
	}

	// The row lock taken by UPDATE serializes concurrent increments of the same record.
	result, err := p.db.ExecContext(ctx, `
		UPDATE records
		SET data = (data || $3::jsonb) || jsonb_build_object($4::text, COALESCE((data->>($4::text))::bigint, 0) + $5::bigint),
			updated_at = NOW()
		WHERE kind = $1 AND id = $2`,
		string(kind), id, string(patch), field, by,
	)
	if err != nil {
		return persistence.NewRecordError("Increment", kind, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("Increment", kind, id, err)
	}

	if affected == 0 {
		return persistence.NewRecordError("Increment", kind, id, persistence.ErrNotFound)
	}

	return nil
}

func (p *Persistence) Delete(ctx context.Context, kind persistence.Kind, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM records WHERE kind = $1 AND id = $2`, string(kind), id)
	if err != nil {
		return persistence.NewRecordError("Delete", kind, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("Delete", kind, id, err)
	}

	if affected == 0 {
		return persistence.NewRecordError("Delete", kind, id, persistence.ErrNotFound)
	}

	return nil
}

func (p *Persistence) Filter(ctx context.Context, kind persistence.Kind, query persistence.Query) ([]json.RawMessage, error) {
	if err := query.Validate(); err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", err)
	}

	where := query.Where
	if where == nil {
		where = map[string]any{}
	}

	containment, err := json.Marshal(where)
	if err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", fmt.Errorf("failed to marshal filter: %w", err))
	}

	direction := "ASC"
	if query.Descending {
		direction = "DESC"
	}

	// An empty sort field falls back to insertion order.
	statement := fmt.Sprintf(`
		SELECT data FROM records
		WHERE kind = $1 AND data @> $2::jsonb
		ORDER BY CASE WHEN $3::text = '' THEN NULL ELSE data->($3::text) END %[1]s, created_at %[1]s
		LIMIT NULLIF($4::int, 0) OFFSET $5::int
	`, direction)

	rows, err := p.db.QueryContext(ctx, statement, string(kind), string(containment), query.SortBy, query.Limit, query.Offset)
	if err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", fmt.Errorf("failed to query records: %w", err))
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	records := make([]json.RawMessage, 0)

	for rows.Next() {
		var data []byte

		err := rows.Scan(&data)
		if err != nil {
			return nil, persistence.NewRecordError("Filter", kind, "", fmt.Errorf("failed to scan record: %w", err))
		}

		records = append(records, json.RawMessage(data))
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", fmt.Errorf("error iterating records: %w", err))
	}

	return records, nil
}
