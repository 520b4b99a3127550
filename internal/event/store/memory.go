package store

import (
	"context"
	"sync"

	"baobab/internal/applicationform/models"
	id "baobab/pkg/domain"
	"baobab/pkg/platform/sentinel"
)

// InMemoryDirectory is an event directory for tests and database-less runs.
type InMemoryDirectory struct {
	mu       sync.RWMutex
	events   map[id.EventID]models.Event
	admins   map[id.UserID]struct{}
	eventAdm map[id.EventID]map[id.UserID]struct{}
}

func NewInMemory() *InMemoryDirectory {
	return &InMemoryDirectory{
		events:   make(map[id.EventID]models.Event),
		admins:   make(map[id.UserID]struct{}),
		eventAdm: make(map[id.EventID]map[id.UserID]struct{}),
	}
}

func (d *InMemoryDirectory) AddEvent(ev models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[ev.ID] = ev
}

// GrantEventAdmin gives userID the admin role on eventID.
func (d *InMemoryDirectory) GrantEventAdmin(userID id.UserID, eventID id.EventID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eventAdm[eventID] == nil {
		d.eventAdm[eventID] = make(map[id.UserID]struct{})
	}
	d.eventAdm[eventID][userID] = struct{}{}
}

// AddGlobalAdmin makes userID an admin of every event.
func (d *InMemoryDirectory) AddGlobalAdmin(userID id.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admins[userID] = struct{}{}
}

func (d *InMemoryDirectory) FindEvent(_ context.Context, eventID id.EventID) (*models.Event, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &ev, nil
}

func (d *InMemoryDirectory) IsEventAdmin(_ context.Context, userID id.UserID, eventID id.EventID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.admins[userID]; ok {
		return true, nil
	}
	_, ok := d.eventAdm[eventID][userID]
	return ok, nil
}
