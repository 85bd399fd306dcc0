// Package eventstore persists emitted events to Postgres via gorm, mirroring
// services/otc-gateway's models.go (uuid-keyed gorm structs) and
// server.go's gorm.Open(postgres.Open(dsn), ...) bootstrap, generalized from
// the gateway's invoice/partner domain rows to a single append-only
// EventRecord table every component's event funnels into.
package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"predcore/internal/events"
)

// EventRecord is the Postgres row one emitted event persists as.
type EventRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventType string    `gorm:"index;size:128;not null"`
	Payload   string    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (EventRecord) TableName() string { return "core_events" }

// Store implements events.Emitter, writing one EventRecord per event.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the core_events table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("eventstore: connect: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Emit implements events.Emitter. A write failure is swallowed rather than
// propagated, since Emitter.Emit has no error return and the caller must
// not be blocked by persistence trouble — the in-process events.Log remains
// the source of truth regardless of whether this sink is reachable.
func (s *Store) Emit(e events.Event) {
	if e == nil || s.db == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	record := EventRecord{
		ID:        uuid.New(),
		EventType: e.EventType(),
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}
	s.db.Create(&record)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("eventstore: underlying db handle: %w", err)
	}
	return sqlDB.Close()
}

// ByType returns every persisted record whose EventType matches typ, most
// recent last, for an operator replaying a specific event class.
func (s *Store) ByType(typ string) ([]EventRecord, error) {
	var out []EventRecord
	if err := s.db.Where("event_type = ?", typ).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventstore: query %s: %w", typ, err)
	}
	return out, nil
}

var _ events.Emitter = (*Store)(nil)
