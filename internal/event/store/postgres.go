// Package store resolves events and event-admin rights for the form service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	"baobab/pkg/platform/sentinel"
)

// RoleAdmin is the event_role value that grants form administration.
const RoleAdmin = "admin"

// PostgresDirectory reads the event, app_user and event_role tables.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	var (
		ev     models.Event
		closes sql.NullTime
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, application_close FROM event WHERE id = $1`,
		int64(eventID),
	).Scan(&ev.ID, &ev.Name, &closes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find event %d: %w", eventID, err)
	}
	if closes.Valid {
		t := closes.Time
		ev.ApplicationClose = &t
	}
	return &ev, nil
}

// IsEventAdmin is true for global admins and for users holding the admin
// role on the event.
func (d *PostgresDirectory) IsEventAdmin(ctx context.Context, userID id.UserID, eventID id.EventID) (bool, error) {
	var ok bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM app_user WHERE id = $1 AND is_admin
		) OR EXISTS (
			SELECT 1 FROM event_role WHERE user_id = $1 AND event_id = $2 AND role = $3
		)
	`, int64(userID), int64(eventID), RoleAdmin).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check event admin: %w", err)
	}
	return ok, nil
}
