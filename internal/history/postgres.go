package history

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/database"
	"github.com/jmoiron/sqlx"
)

type (
	// recordModel is the database representation of a Record, holding
	// the file listing in a JSONB column.
	recordModel struct {
		Record
		Files database.JsonColumn[[]string] `db:"files"`
	}

	PostgresStore struct {
		db database.Manager
	}
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func NewPostgresStore(db database.Manager) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveDownload upserts the record provided. The files, timings and completion
// time are replaced if a record with the same ID already exists.
func (store *PostgresStore) SaveDownload(record *Record) error {
	query, args, err := psql.Insert("download").
		Columns("id", "url", "title", "folder", "files", "total_time", "total_space_mb", "created_at", "completed_at").
		Values(record.ID, record.URL, record.Title, record.Folder, database.NewJsonColumn(nonNil(record.Files)),
			record.TotalTime, record.TotalSpaceMB, record.CreatedAt.UTC(), record.CompletedAt.UTC()).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			title=EXCLUDED.title, folder=EXCLUDED.folder, files=EXCLUDED.files,
			total_time=EXCLUDED.total_time, total_space_mb=EXCLUDED.total_space_mb,
			completed_at=EXCLUDED.completed_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct save download query: %w", err)
	}

	return store.db.WrapTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to save download %s: %w", record.ID, err)
		}

		return nil
	})
}

func (store *PostgresStore) GetDownload(id uuid.UUID) (*Record, error) {
	query, args, err := selectRecordBuilder().Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct get download query: %w", err)
	}

	var model recordModel
	if err := store.queryable().Get(&model, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to find download %s: %w", id, err)
	}

	return model.toRecord(), nil
}

func (store *PostgresStore) ListDownloads() ([]*Record, error) {
	return store.selectRecords(selectRecordBuilder())
}

func (store *PostgresStore) GetDownloadsForFolder(folder string) ([]*Record, error) {
	return store.selectRecords(selectRecordBuilder().Where(squirrel.Eq{"folder": folder}))
}

func (store *PostgresStore) DeleteDownloadsForFolder(folder string) error {
	query, args, err := psql.Delete("download").Where(squirrel.Eq{"folder": folder}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct delete downloads query: %w", err)
	}

	if _, err := store.queryable().Exec(query, args...); err != nil {
		return fmt.Errorf("failed to delete downloads for folder %s: %w", folder, err)
	}

	return nil
}

func (store *PostgresStore) selectRecords(builder squirrel.SelectBuilder) ([]*Record, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list downloads query: %w", err)
	}

	var results []recordModel
	if err := store.queryable().Select(&results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}

	output := make([]*Record, len(results))
	for k, v := range results {
		output[k] = v.toRecord()
	}

	return output, nil
}

func (store *PostgresStore) queryable() database.Queryable { return store.db.GetSqlxDb() }

func selectRecordBuilder() squirrel.SelectBuilder {
	return psql.Select("id", "url", "title", "folder", "files", "total_time", "total_space_mb", "created_at", "completed_at").
		From("download").
		OrderBy("completed_at DESC")
}

func (model *recordModel) toRecord() *Record {
	record := model.Record
	record.Files = nonNil(model.Files.Get())
	return &record
}

func nonNil(files []string) []string {
	if files == nil {
		return []string{}
	}

	return files
}
