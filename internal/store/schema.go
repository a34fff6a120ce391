package store

// Schema for events.db. Events carry a small fixed column set; everything
// displayable lives in event_meta so meta predicates can address any key.

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_type TEXT NOT NULL DEFAULT 'event',
    post_status TEXT NOT NULL DEFAULT 'publish',
    slug TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    excerpt TEXT NOT NULL DEFAULT '',
    thumbnail_url TEXT NOT NULL DEFAULT '',
    published_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

const createEventMetaTableSQL = `
CREATE TABLE IF NOT EXISTS event_meta (
    event_id INTEGER NOT NULL,
    meta_key TEXT NOT NULL,
    meta_value TEXT NOT NULL,
    PRIMARY KEY (event_id, meta_key),
    FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
)`

const createCategoriesTableSQL = `
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE
)`

const createEventCategoriesTableSQL = `
CREATE TABLE IF NOT EXISTS event_categories (
    event_id INTEGER NOT NULL,
    category_id INTEGER NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (event_id, category_id),
    FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE,
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_events_scope ON events(post_type, post_status)`,
	`CREATE INDEX IF NOT EXISTS idx_event_meta_lookup ON event_meta(meta_key, meta_value)`,
	`CREATE INDEX IF NOT EXISTS idx_event_categories_category ON event_categories(category_id)`,
}

// allSchemaSQL returns every statement needed to initialize events.db.
func allSchemaSQL() []string {
	stmts := []string{
		createEventsTableSQL,
		createEventMetaTableSQL,
		createCategoriesTableSQL,
		createEventCategoriesTableSQL,
	}
	return append(stmts, createIndexesSQL...)
}
