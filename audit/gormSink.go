package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/models"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// auditRow is the persisted shape of an Entry. Seq is the primary key, so two
// writers racing for the same position cannot both commit.
type auditRow struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement:false"`
	ID            string    `gorm:"size:36;uniqueIndex;not null"`
	Timestamp     time.Time `gorm:"type:datetime(6);index;not null"`
	ActorID       string    `gorm:"size:64;index;not null"`
	ActorName     string    `gorm:"size:120"`
	ActorRole     string    `gorm:"size:32;not null"`
	EventType     string    `gorm:"size:40;index;not null"`
	EntityType    string    `gorm:"size:20;not null"`
	EntityID      string    `gorm:"size:64;index"`
	Action        string    `gorm:"type:text"`
	Before        *string   `gorm:"type:longtext"`
	After         *string   `gorm:"type:longtext"`
	Metadata      *string   `gorm:"type:text"`
	PrevHash      string    `gorm:"size:64;not null"`
	IntegrityHash string    `gorm:"size:64;uniqueIndex;not null"`
}

func (auditRow) TableName() string {
	return config.AuditTableName
}

// GormSink stores the chain in MySQL. Rows are only ever inserted; the
// append-only plugin installed on the connection rejects updates and deletes.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&auditRow{})
}

func (s *GormSink) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]auditRow, len(entries))
	for i, e := range entries {
		rows[i] = toRow(e)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return &models.TransitionError{
			Kind:    models.KindConcurrentModification,
			Message: fmt.Sprintf("audit position %d already written by another instance", entries[0].Seq),
			Cause:   err,
		}
	}
	return err
}

func (s *GormSink) Load(ctx context.Context) ([]Entry, error) {
	var rows []auditRow
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func toRow(e Entry) auditRow {
	return auditRow{
		Seq:           e.Seq,
		ID:            e.ID,
		Timestamp:     e.Timestamp.UTC(),
		ActorID:       e.ActorID,
		ActorName:     e.ActorName,
		ActorRole:     e.ActorRole,
		EventType:     string(e.EventType),
		EntityType:    string(e.EntityType),
		EntityID:      e.EntityID,
		Action:        e.Action,
		Before:        rawToText(e.Payload.Before),
		After:         rawToText(e.Payload.After),
		Metadata:      rawToText(e.Payload.Metadata),
		PrevHash:      e.PrevHash,
		IntegrityHash: e.IntegrityHash,
	}
}

func fromRow(r auditRow) Entry {
	return Entry{
		ID:         r.ID,
		Seq:        r.Seq,
		Timestamp:  r.Timestamp.UTC(),
		ActorID:    r.ActorID,
		ActorName:  r.ActorName,
		ActorRole:  r.ActorRole,
		EventType:  models.AuditEventType(r.EventType),
		EntityType: models.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		Action:     r.Action,
		Payload: Payload{
			Before:   textToRaw(r.Before),
			After:    textToRaw(r.After),
			Metadata: textToRaw(r.Metadata),
		},
		PrevHash:      r.PrevHash,
		IntegrityHash: r.IntegrityHash,
	}
}

func rawToText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func textToRaw(s *string) json.RawMessage {
	if s == nil || *s == "" {
		return nil
	}
	return json.RawMessage(*s)
}
