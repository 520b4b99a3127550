// Package postgres opens the shared database handle and bootstraps the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	// registers the "postgres" driver
	_ "github.com/lib/pq"

	"baobab/internal/platform/config"
)

// Open connects with the pool settings from cfg and pings once.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// CreateSchema creates all tables needed by the service.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Events and the users allowed to administer them
CREATE TABLE IF NOT EXISTS event (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    application_close TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS app_user (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    is_admin BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS event_role (
    event_id BIGINT NOT NULL REFERENCES event(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL REFERENCES app_user(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    PRIMARY KEY (event_id, user_id, role)
);

-- Application forms
CREATE TABLE IF NOT EXISTS application_form (
    id BIGSERIAL PRIMARY KEY,
    event_id BIGINT NOT NULL UNIQUE REFERENCES event(id),
    is_open BOOLEAN NOT NULL,
    deadline TIMESTAMPTZ,
    nominations BOOLEAN NOT NULL DEFAULT FALSE,
    version BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS section (
    id BIGSERIAL PRIMARY KEY,
    application_form_id BIGINT NOT NULL REFERENCES application_form(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    "order" INTEGER NOT NULL,
    depends_on_question_id BIGINT,
    show_for_values JSONB,
    key TEXT
);

CREATE INDEX IF NOT EXISTS idx_section_form ON section(application_form_id);

CREATE TABLE IF NOT EXISTS question (
    id BIGSERIAL PRIMARY KEY,
    application_form_id BIGINT NOT NULL REFERENCES application_form(id) ON DELETE CASCADE,
    section_id BIGINT NOT NULL REFERENCES section(id) ON DELETE CASCADE,
    headline TEXT NOT NULL,
    placeholder TEXT NOT NULL DEFAULT '',
    "order" INTEGER NOT NULL,
    type TEXT NOT NULL,
    validation_regex TEXT,
    validation_text TEXT,
    is_required BOOLEAN NOT NULL DEFAULT TRUE,
    description TEXT NOT NULL DEFAULT '',
    options JSONB,
    depends_on_question_id BIGINT REFERENCES question(id) ON DELETE SET NULL,
    show_for_values JSONB,
    key TEXT
);

CREATE INDEX IF NOT EXISTS idx_question_section ON question(section_id);

DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'section_depends_on_question_fk') THEN
        ALTER TABLE section ADD CONSTRAINT section_depends_on_question_fk
            FOREIGN KEY (depends_on_question_id) REFERENCES question(id) ON DELETE SET NULL;
    END IF;
END $$;

-- Transactional outbox for the audit relay
CREATE TABLE IF NOT EXISTS outbox (
    id UUID PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(created_at) WHERE published_at IS NULL;
`
