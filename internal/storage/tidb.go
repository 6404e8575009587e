package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/dropstream/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createUploadsTable = `CREATE TABLE IF NOT EXISTS uploads (
	id          VARCHAR(36)  NOT NULL PRIMARY KEY,
	session_id  VARCHAR(128) NOT NULL,
	field_name  VARCHAR(255) NOT NULL,
	file_name   VARCHAR(255) NOT NULL,
	size        BIGINT       NOT NULL,
	sha256      CHAR(64)     NOT NULL,
	chunk_count INT          NOT NULL,
	created_at  DATETIME(6)  NOT NULL
)`

// TiDBLedger records every completed upload in a MySQL-compatible database
type TiDBLedger struct {
	db *sql.DB
}

// NewTiDBLedger opens the database and makes sure the uploads table exists
func NewTiDBLedger(dsn string) (*TiDBLedger, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(createUploadsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create uploads table: %w", err)
	}

	return &TiDBLedger{db: db}, nil
}

// NewTiDBLedgerFromDB wraps an already opened database
func NewTiDBLedgerFromDB(db *sql.DB) *TiDBLedger {
	return &TiDBLedger{db: db}
}

// Close closes the database connection
func (tl *TiDBLedger) Close() error {
	return tl.db.Close()
}

// Record inserts one completed upload with tracing
func (tl *TiDBLedger) Record(ctx context.Context, rec models.UploadRecord) error {
	ctx, span := tracer.Start(ctx, "tidb.record_upload",
		trace.WithAttributes(
			attribute.String("upload_id", rec.ID),
			attribute.String("file_name", rec.FileName),
			attribute.Int64("file_size", rec.Size),
		),
	)
	defer span.End()

	query := `INSERT INTO uploads (id, session_id, field_name, file_name, size, sha256, chunk_count, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := tl.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.FieldName, rec.FileName, rec.Size, rec.SHA256, rec.ChunkCount, rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert upload: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}
