package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/notify"
	"github.com/eventdeck/eventdeck/internal/sqliteutil"
	"github.com/eventdeck/eventdeck/pkg/types"
)

// ErrClosed is returned by reads on a closed store.
var ErrClosed = apperrors.NewInternalError("event store is closed", nil)

// SQLiteStore implements EventStore and Writer over events.db.
type SQLiteStore struct {
	db        *sqliteutil.DB
	mu        sync.Mutex // serializes multi-statement writes
	publisher Publisher
	now       func() time.Time

	// Prepared statement cache (read pool)
	findStmtCache map[string]*sql.Stmt
	findStmtMu    sync.RWMutex
	closed        bool
}

// Open opens or creates an event store at path. publisher may be nil.
func Open(path string, publisher Publisher) (*SQLiteStore, error) {
	db, err := sqliteutil.Open(path, 4)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := &SQLiteStore{
		db:            db,
		publisher:     publisher,
		now:           time.Now,
		findStmtCache: make(map[string]*sql.Stmt),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range allSchemaSQL() {
		if _, err := s.db.Write.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes cached statements and both connections.
func (s *SQLiteStore) Close() error {
	s.findStmtMu.Lock()
	if s.closed {
		s.findStmtMu.Unlock()
		return nil
	}
	s.closed = true
	for _, stmt := range s.findStmtCache {
		stmt.Close()
	}
	s.findStmtCache = make(map[string]*sql.Stmt)
	s.findStmtMu.Unlock()
	return s.db.Close()
}

// Optimize compacts events.db.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Optimize(ctx)
}

// Find implements EventStore.
func (s *SQLiteStore) Find(ctx context.Context, q types.Query) ([]types.Event, error) {
	query, args, err := buildFindQuery(q)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidInput, err.Error())
	}

	stmt, err := s.getOrPrepareStmt(query)
	if err == ErrClosed {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "prepare find query", err)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "find events", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan event", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate events", err)
	}
	if len(events) == 0 {
		return []types.Event{}, nil
	}

	ids := make([]interface{}, len(events))
	byID := make(map[int64]*types.Event, len(events))
	for i := range events {
		ids[i] = events[i].ID
		byID[events[i].ID] = &events[i]
	}
	if err := s.attachMeta(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := s.attachCategories(ctx, ids, byID); err != nil {
		return nil, err
	}
	return events, nil
}

// Get implements EventStore.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*types.Event, error) {
	row := s.db.Read.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events e WHERE e.id = ?", id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(apperrors.CodeEventNotFound,
			fmt.Sprintf("event %d not found", id))
	}
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "get event", err)
	}

	if err := s.attachMeta(ctx, []interface{}{id}, map[int64]*types.Event{id: e}); err != nil {
		return nil, err
	}
	return e, nil
}

// Categories implements EventStore.
func (s *SQLiteStore) Categories(ctx context.Context, eventID int64) ([]types.Category, error) {
	e := &types.Event{ID: eventID}
	if err := s.attachCategories(ctx, []interface{}{eventID}, map[int64]*types.Event{eventID: e}); err != nil {
		return nil, err
	}
	if e.Categories == nil {
		return []types.Category{}, nil
	}
	return e.Categories, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Titles returns the title of each id that exists. Analytics uses it to join
// titles onto feeds and exports.
func (s *SQLiteStore) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Read.QueryContext(ctx,
		"SELECT id, title FROM events WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "load titles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan title", err)
		}
		out[id] = title
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate titles", err)
	}
	return out, nil
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var e types.Event
	err := row.Scan(&e.ID, &e.PostType, &e.PostStatus, &e.Slug, &e.Title,
		&e.Content, &e.Excerpt, &e.ThumbnailURL)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) attachMeta(ctx context.Context, ids []interface{}, byID map[int64]*types.Event) error {
	rows, err := s.db.Read.QueryContext(ctx,
		"SELECT event_id, meta_key, meta_value FROM event_meta WHERE event_id IN ("+placeholders(len(ids))+")",
		ids...)
	if err != nil {
		return apperrors.NewStorageError(apperrors.CodeQueryFailed, "load event meta", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			key, value string
		)
		if err := rows.Scan(&id, &key, &value); err != nil {
			return apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan event meta", err)
		}
		if e, ok := byID[id]; ok {
			applyMeta(e, key, value)
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate event meta", err)
	}
	return nil
}

func (s *SQLiteStore) attachCategories(ctx context.Context, ids []interface{}, byID map[int64]*types.Event) error {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT ec.event_id, c.id, c.name, c.slug
		FROM event_categories ec JOIN categories c ON c.id = ec.category_id
		WHERE ec.event_id IN (`+placeholders(len(ids))+`)
		ORDER BY ec.event_id, ec.position, c.id`, ids...)
	if err != nil {
		return apperrors.NewStorageError(apperrors.CodeQueryFailed, "load categories", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventID int64
			c       types.Category
		)
		if err := rows.Scan(&eventID, &c.ID, &c.Name, &c.Slug); err != nil {
			return apperrors.NewStorageError(apperrors.CodeQueryFailed, "scan category", err)
		}
		if e, ok := byID[eventID]; ok {
			e.Categories = append(e.Categories, c)
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewStorageError(apperrors.CodeQueryFailed, "iterate categories", err)
	}
	return nil
}

// Upsert implements Writer. An event with ID 0 is inserted; otherwise the
// existing row is replaced. Categories are linked by slug and created when
// missing.
func (s *SQLiteStore) Upsert(ctx context.Context, e *types.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Write.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "begin upsert", err)
	}
	defer tx.Rollback()

	postType := e.PostType
	if postType == "" {
		postType = types.PostTypeEvent
	}
	postStatus := e.PostStatus
	if postStatus == "" {
		postStatus = "publish"
	}
	now := s.now().Unix()

	id := e.ID
	created := id == 0
	if created {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (post_type, post_status, slug, title, content, excerpt, thumbnail_url, published_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			postType, postStatus, e.Slug, e.Title, e.Content, e.Excerpt, e.ThumbnailURL, now, now)
		if err != nil {
			return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "insert event", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "insert event id", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, post_type, post_status, slug, title, content, excerpt, thumbnail_url, published_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				post_type = excluded.post_type, post_status = excluded.post_status,
				slug = excluded.slug, title = excluded.title, content = excluded.content,
				excerpt = excluded.excerpt, thumbnail_url = excluded.thumbnail_url,
				updated_at = excluded.updated_at`,
			id, postType, postStatus, e.Slug, e.Title, e.Content, e.Excerpt, e.ThumbnailURL, now, now)
		if err != nil {
			return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "update event", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "update event", fmt.Errorf("no rows affected"))
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_meta WHERE event_id = ?`, id); err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "clear event meta", err)
	}
	for key, value := range metaValues(e) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_meta (event_id, meta_key, meta_value) VALUES (?, ?, ?)`, id, key, value); err != nil {
			return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "insert event meta", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_categories WHERE event_id = ?`, id); err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "clear event categories", err)
	}
	for pos, c := range e.Categories {
		catID, err := upsertCategoryTx(ctx, tx, c)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_categories (event_id, category_id, position) VALUES (?, ?, ?)`,
			id, catID, pos); err != nil {
			return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "link category", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "commit upsert", err)
	}

	typ := notify.EventUpdated
	if created {
		typ = notify.EventCreated
	}
	s.publish(notify.Notification{Type: typ, Topic: "event", ID: id})
	return id, nil
}

// Delete implements Writer. Deleting a missing event is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Write.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return apperrors.NewStorageError(apperrors.CodeWriteFailed, "delete event", err)
	}
	s.publish(notify.Notification{Type: notify.EventDeleted, Topic: "event", ID: id})
	return nil
}

// UpsertCategory implements Writer. Categories are keyed by slug.
func (s *SQLiteStore) UpsertCategory(ctx context.Context, c *types.Category) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Write.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "begin category upsert", err)
	}
	defer tx.Rollback()

	id, err := upsertCategoryTx(ctx, tx, *c)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "commit category upsert", err)
	}
	s.publish(notify.Notification{Type: notify.CategoryChanged, Topic: "category", ID: id})
	return id, nil
}

// DeleteCategory implements Writer.
func (s *SQLiteStore) DeleteCategory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Write.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return apperrors.NewStorageError(apperrors.CodeWriteFailed, "delete category", err)
	}
	s.publish(notify.Notification{Type: notify.CategoryChanged, Topic: "category", ID: id})
	return nil
}

func (s *SQLiteStore) publish(n notify.Notification) {
	if s.publisher != nil {
		s.publisher.Publish(n)
	}
}

func upsertCategoryTx(ctx context.Context, tx *sql.Tx, c types.Category) (int64, error) {
	slug := strings.TrimSpace(c.Slug)
	if slug == "" {
		return 0, apperrors.NewValidationError(apperrors.CodeInvalidInput, "category slug is required")
	}
	name := c.Name
	if name == "" {
		name = slug
	}

	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO categories (name, slug) VALUES (?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name
		RETURNING id`, name, slug).Scan(&id)
	if err != nil {
		return 0, apperrors.NewStorageError(apperrors.CodeWriteFailed, "upsert category", err)
	}
	return id, nil
}

// getOrPrepareStmt returns a cached prepared statement or creates one.
func (s *SQLiteStore) getOrPrepareStmt(query string) (*sql.Stmt, error) {
	s.findStmtMu.RLock()
	if stmt, ok := s.findStmtCache[query]; ok {
		s.findStmtMu.RUnlock()
		return stmt, nil
	}
	s.findStmtMu.RUnlock()

	s.findStmtMu.Lock()
	defer s.findStmtMu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	// Double-check after acquiring write lock
	if stmt, ok := s.findStmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Read.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.findStmtCache[query] = stmt
	return stmt, nil
}

func metaValues(e *types.Event) map[string]string {
	m := map[string]string{
		MetaStartDate: e.StartDate,
		MetaEndDate:   e.EndDate,
		MetaStartTime: e.StartTime,
		MetaEndTime:   e.EndTime,
		MetaLocation:  e.Location,
		MetaPrice:     e.Price,
		MetaCurrency:  e.Currency,
		MetaStatus:    string(e.Status),
		MetaTicketURL: e.TicketURL,
		MetaFeatured:  "0",
	}
	if e.Featured {
		m[MetaFeatured] = "1"
	}
	if e.Capacity > 0 {
		m[MetaCapacity] = strconv.Itoa(e.Capacity)
	}
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

func applyMeta(e *types.Event, key, value string) {
	switch key {
	case MetaStartDate:
		e.StartDate = value
	case MetaEndDate:
		e.EndDate = value
	case MetaStartTime:
		e.StartTime = value
	case MetaEndTime:
		e.EndTime = value
	case MetaLocation:
		e.Location = value
	case MetaCapacity:
		e.Capacity, _ = strconv.Atoi(value)
	case MetaPrice:
		e.Price = value
	case MetaCurrency:
		e.Currency = value
	case MetaStatus:
		e.Status = types.EventStatus(value)
	case MetaFeatured:
		e.Featured = value == "1"
	case MetaTicketURL:
		e.TicketURL = value
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
