package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/query"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/audit"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/compressx"
	"github.com/dmitrijs2005/gardenkeeper/internal/dbx"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
)

// DefaultCompressionThreshold is the document size in bytes from which
// values are stored compressed.
const DefaultCompressionThreshold = 1024

// DefaultIndexes lists the secondary index fields of every collection.
var DefaultIndexes = map[models.Collection][]string{
	models.CollectionPlants: {"type", "status", "location", "tags"},
	models.CollectionEvents: {"type", "date", "plantId", "completed"},
	models.CollectionPosts:  {"category", "status", "author", "tags"},
}

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = `collection, id, data, compressed, schema_version, created_at, updated_at`

// SQLiteStore implements Store on the tables created by the client
// migrations.
type SQLiteStore struct {
	db        *sql.DB
	audit     audit.Repository
	logger    logging.Logger
	indexes   map[models.Collection][]string
	threshold int
	now       func() time.Time
}

type Option func(*SQLiteStore)

// WithCompressionThreshold sets the size from which documents are
// compressed. Zero or less disables compression.
func WithCompressionThreshold(n int) Option {
	return func(s *SQLiteStore) { s.threshold = n }
}

// WithIndexes replaces the index fields of collection c.
func WithIndexes(c models.Collection, fields ...string) Option {
	return func(s *SQLiteStore) { s.indexes[c] = fields }
}

// WithAuditRepository replaces the audit writer, which otherwise shares db.
func WithAuditRepository(r audit.Repository) Option {
	return func(s *SQLiteStore) { s.audit = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

func NewSQLiteStore(db *sql.DB, logger logging.Logger, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		db:        db,
		audit:     audit.NewSQLiteRepository(db),
		logger:    logger.With("module", "store"),
		indexes:   make(map[models.Collection][]string, len(DefaultIndexes)),
		threshold: DefaultCompressionThreshold,
		now:       time.Now,
	}
	for c, fields := range DefaultIndexes {
		s.indexes[c] = fields
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) Create(ctx context.Context, e models.Entity) error {
	rec, err := encode(e)
	if err != nil {
		return common.NewStorageError("create", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, found, err := readRow(ctx, tx, rec.Collection, rec.ID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s/%s", common.ErrDuplicateKey, rec.Collection, rec.ID)
		}
		if err := s.insert(ctx, tx, rec); err != nil {
			return err
		}
		return s.writeIndex(ctx, tx, rec)
	})
	if err != nil {
		return wrap("create", err)
	}

	s.appendAudit(ctx, rec, models.OpCreate, nil, rec.Data)
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, c models.Collection, id string) (*Record, error) {
	rec, found, err := readRow(ctx, s.db, c, id)
	if err != nil {
		return nil, wrap("read", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrNotFound, c, id)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, e models.Entity) error {
	rec, err := encode(e)
	if err != nil {
		return common.NewStorageError("update", err)
	}

	var before *Record
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		prev, found, err := readRow(ctx, tx, rec.Collection, rec.ID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s/%s", common.ErrNotFound, rec.Collection, rec.ID)
		}
		before = prev

		if err := s.replace(ctx, tx, rec); err != nil {
			return err
		}
		return s.writeIndex(ctx, tx, rec)
	})
	if err != nil {
		return wrap("update", err)
	}

	s.appendAudit(ctx, rec, models.OpUpdate, before.Data, rec.Data)
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, e models.Entity) (bool, error) {
	rec, err := encode(e)
	if err != nil {
		return false, common.NewStorageError("upsert", err)
	}

	var before *Record
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		prev, found, err := readRow(ctx, tx, rec.Collection, rec.ID)
		if err != nil {
			return err
		}
		if found {
			before = prev
			err = s.replace(ctx, tx, rec)
		} else {
			err = s.insert(ctx, tx, rec)
		}
		if err != nil {
			return err
		}
		return s.writeIndex(ctx, tx, rec)
	})
	if err != nil {
		return false, wrap("upsert", err)
	}

	if before == nil {
		s.appendAudit(ctx, rec, models.OpCreate, nil, rec.Data)
		return true, nil
	}
	s.appendAudit(ctx, rec, models.OpUpdate, before.Data, rec.Data)
	return false, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, c models.Collection, id string) error {
	var before *Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		prev, found, err := readRow(ctx, tx, c, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s/%s", common.ErrNotFound, c, id)
		}
		before = prev

		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE collection = ? AND id = ?`, string(c), id); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return deleteIndex(ctx, tx, c, id)
	})
	if err != nil {
		return wrap("delete", err)
	}

	s.appendAudit(ctx, before, models.OpDelete, before.Data, nil)
	return nil
}

func (s *SQLiteStore) FindAll(ctx context.Context, c models.Collection, opts FindOptions) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM entities WHERE collection = ? ORDER BY created_at, id`, string(c))
	if err != nil {
		return nil, common.NewStorageError("find", fmt.Errorf("failed to select records: %w", err))
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, common.NewStorageError("find", err)
		}
		if opts.Filter != nil && !opts.Filter(rec) {
			continue
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("find", err)
	}

	if opts.Less != nil {
		sort.SliceStable(result, func(i, j int) bool { return opts.Less(result[i], result[j]) })
	}
	return window(result, opts.Limit, opts.Offset), nil
}

// AdvancedQuery runs q over a snapshot of collection c.
func (s *SQLiteStore) AdvancedQuery(ctx context.Context, c models.Collection, q query.Query) (*query.Result, error) {
	recs, err := s.FindAll(ctx, c, FindOptions{})
	if err != nil {
		return nil, err
	}

	docs := make([]query.Doc, 0, len(recs))
	for _, r := range recs {
		m, err := r.Map()
		if err != nil {
			return nil, common.NewStorageError("query", fmt.Errorf("decode %s/%s: %w", c, r.ID, err))
		}
		docs = append(docs, m)
	}
	return query.Execute(docs, q)
}

func (s *SQLiteStore) Count(ctx context.Context, c models.Collection) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE collection = ?`, string(c)).Scan(&n)
	if err != nil {
		return 0, common.NewStorageError("count", err)
	}
	return n, nil
}

// Clear removes every record of c. It is not audited.
func (s *SQLiteStore) Clear(ctx context.Context, c models.Collection) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE collection = ?`, string(c)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM entity_index WHERE collection = ?`, string(c))
		return err
	})
	if err != nil {
		return common.NewStorageError("clear", err)
	}
	return nil
}

func (s *SQLiteStore) AuditLog(ctx context.Context, entityID string, limit int) ([]models.AuditEntry, error) {
	entries, err := s.audit.List(ctx, entityID, limit)
	if err != nil {
		return nil, common.NewStorageError("audit", err)
	}
	return entries, nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx dbx.DBTX, rec *Record) error {
	data, compressed := compressx.MaybeEncode(rec.Data, s.threshold)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(rec.Collection), rec.ID, data, compressed, rec.SchemaVersion,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) replace(ctx context.Context, tx dbx.DBTX, rec *Record) error {
	data, compressed := compressx.MaybeEncode(rec.Data, s.threshold)
	_, err := tx.ExecContext(ctx, `
		UPDATE entities SET data = ?, compressed = ?, schema_version = ?, updated_at = ?
		WHERE collection = ? AND id = ?
	`, data, compressed, rec.SchemaVersion, formatTime(rec.UpdatedAt), string(rec.Collection), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) appendAudit(ctx context.Context, rec *Record, op models.Operation, before, after json.RawMessage) {
	entry := &models.AuditEntry{
		Collection: rec.Collection,
		EntityID:   rec.ID,
		Operation:  op,
		Before:     before,
		After:      after,
		Timestamp:  s.now().UTC(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn(ctx, "audit append failed", "collection", rec.Collection, "id", rec.ID, "op", op, "error", err)
	}
}

func readRow(ctx context.Context, db dbx.DBTX, c models.Collection, id string) (*Record, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM entities WHERE collection = ? AND id = ?`, string(c), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// storedRow is one entities row as stored.
type storedRow struct {
	collection string
	id         string
	data       []byte
	compressed bool
	version    string
	created    string
	updated    string
}

func (r *storedRow) dest() []any {
	return []any{&r.collection, &r.id, &r.data, &r.compressed, &r.version, &r.created, &r.updated}
}

func (r *storedRow) record() (*Record, error) {
	data := r.data
	if r.compressed {
		raw, err := compressx.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("record %s/%s: %w", r.collection, r.id, err)
		}
		data = raw
	}

	rec := &Record{
		Collection:    models.Collection(r.collection),
		ID:            r.id,
		Data:          data,
		SchemaVersion: r.version,
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.updated)
	return rec, nil
}

func scanRecord(sc scanner) (*Record, error) {
	var row storedRow
	if err := sc.Scan(row.dest()...); err != nil {
		return nil, err
	}
	return row.record()
}

func encode(e models.Entity) (*Record, error) {
	b := e.GetBase()
	c := e.EntityType().Collection()
	if c == "" || b.ID == "" {
		return nil, fmt.Errorf("record without collection or id")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", b.ID, err)
	}
	return &Record{
		Collection:    c,
		ID:            b.ID,
		Data:          data,
		SchemaVersion: b.SchemaVersion,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}, nil
}

func wrap(op string, err error) error {
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrDuplicateKey) {
		return err
	}
	return common.NewStorageError(op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func window(recs []*Record, limit, offset int) []*Record {
	if offset > 0 {
		if offset >= len(recs) {
			return nil
		}
		recs = recs[offset:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
