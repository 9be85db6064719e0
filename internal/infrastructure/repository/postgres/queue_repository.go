package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/zapdesk/media-extractor/internal/core/domain"
)

type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *QueueRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL,
	attachment_index INT,
	media_url TEXT NOT NULL,
	declared_mime TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT 'unknown',
	file_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	last_attempt_at TIMESTAMPTZ,
	next_retry_at TIMESTAMPTZ,
	extracted_text TEXT,
	processing_method TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	stored_url TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ,
	received_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_items_source
	ON queue_items(webhook_id, COALESCE(attachment_index, -1));
CREATE INDEX IF NOT EXISTS idx_queue_items_status_received
	ON queue_items(status, received_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *QueueRepository) Create(ctx context.Context, item *domain.QueueItem) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO queue_items (
	id, webhook_id, attachment_index, media_url, declared_mime, media_type, file_name,
	status, attempts, max_attempts, received_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		item.ID, item.WebhookID, item.AttachmentIndex, item.MediaURL, item.DeclaredMime,
		string(item.MediaType), item.FileName, string(item.Status), item.Attempts,
		item.MaxAttempts, item.ReceivedAt, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.WrapError(domain.ErrDuplicate, "insert queue item", err)
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

const itemColumns = `
id, webhook_id, attachment_index, media_url, declared_mime, media_type, file_name,
status, attempts, max_attempts, last_attempt_at, next_retry_at, extracted_text,
processing_method, error_message, stored_url, processed_at, received_at, created_at, updated_at
`

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+itemColumns+`
FROM queue_items
WHERE id = $1
`, id)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrItemNotFound, "get queue item", err)
		}
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	return &item, nil
}

func (r *QueueRepository) FetchQueued(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+itemColumns+`
FROM queue_items
WHERE status = $1
ORDER BY received_at DESC
LIMIT $2
`, string(domain.StatusQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch queued items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QueueItem, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued items: %w", err)
	}
	return out, nil
}

// Claim is the conditional claim transaction: the status predicate in the
// WHERE clause makes the queued→processing transition atomic, so exactly one
// concurrent invocation can win a given item.
func (r *QueueRepository) Claim(ctx context.Context, id string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE queue_items
SET status = $2, last_attempt_at = $3, updated_at = $3
WHERE id = $1 AND status = $4
`, id, string(domain.StatusProcessing), now, string(domain.StatusQueued))
	if err != nil {
		return fmt.Errorf("claim queue item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrClaimConflict, "claim queue item", fmt.Errorf("item %s is no longer queued", id))
	}
	return nil
}

func (r *QueueRepository) MarkProcessed(ctx context.Context, id string, status domain.ItemStatus, result domain.ExtractionResult, processedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE queue_items
SET status = $2, extracted_text = $3, processing_method = $4, stored_url = $5,
	error_message = '', next_retry_at = NULL, processed_at = $6, updated_at = $6
WHERE id = $1
`, id, string(status), result.Text, result.Method, result.StoredURL, processedAt)
	if err != nil {
		return fmt.Errorf("mark item processed: %w", err)
	}
	return nil
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id string, outcome domain.FailureOutcome, message string, failedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE queue_items
SET status = $2, attempts = $3, next_retry_at = $4, error_message = $5, updated_at = $6
WHERE id = $1
`, id, string(outcome.Status), outcome.Attempts, outcome.NextRetryAt, message, failedAt)
	if err != nil {
		return fmt.Errorf("mark item failed: %w", err)
	}
	return nil
}

func (r *QueueRepository) MarkUnresolvable(ctx context.Context, id string, message string, failedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE queue_items
SET status = $2, next_retry_at = NULL, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(domain.StatusError), message, failedAt)
	if err != nil {
		return fmt.Errorf("mark item unresolvable: %w", err)
	}
	return nil
}

type itemScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row itemScanner) (domain.QueueItem, error) {
	var item domain.QueueItem
	var status, mediaType string
	var extractedText sql.NullString
	err := row.Scan(
		&item.ID,
		&item.WebhookID,
		&item.AttachmentIndex,
		&item.MediaURL,
		&item.DeclaredMime,
		&mediaType,
		&item.FileName,
		&status,
		&item.Attempts,
		&item.MaxAttempts,
		&item.LastAttemptAt,
		&item.NextRetryAt,
		&extractedText,
		&item.ProcessingMethod,
		&item.ErrorMessage,
		&item.StoredURL,
		&item.ProcessedAt,
		&item.ReceivedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.QueueItem{}, err
	}
	item.Status = domain.ItemStatus(status)
	item.MediaType = domain.MediaType(mediaType)
	item.ExtractedText = extractedText.String
	return item, nil
}
