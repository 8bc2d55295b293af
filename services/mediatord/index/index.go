package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"omnibridge/amb"
	"omnibridge/core/events"
	"omnibridge/observability/metrics"
)

// Message lifecycle states tracked by the index.
const (
	StatusPending  = "PENDING"
	StatusExecuted = "EXECUTED"
	StatusFailed   = "FAILED"
	StatusFixed    = "FIXED"
)

// ErrNotFound is returned when a message id was never indexed.
var ErrNotFound = errors.New("index: message not found")

// EventRow stores one committed event.
type EventRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Chain      string    `gorm:"index" json:"chain"`
	Type       string    `gorm:"index" json:"type"`
	MessageID  string    `gorm:"index" json:"messageId,omitempty"`
	Token      string    `gorm:"index" json:"token,omitempty"`
	Attributes string    `json:"attributes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageRow follows one bridge message from submission to execution and,
// when it failed, to its fix.
type MessageRow struct {
	MessageID        string    `gorm:"primaryKey" json:"messageId"`
	SourceChain      string    `gorm:"index" json:"sourceChain,omitempty"`
	DestinationChain string    `json:"destinationChain,omitempty"`
	Token            string    `gorm:"index" json:"token,omitempty"`
	Sender           string    `json:"sender,omitempty"`
	Recipient        string    `json:"recipient,omitempty"`
	Value            string    `json:"value,omitempty"`
	Manual           bool      `json:"manual"`
	Status           string    `gorm:"index" json:"status"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AutoMigrate performs all schema migrations for the index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRow{}, &MessageRow{})
}

// Index persists committed bridge events of both chains and serves them to
// the query API.
type Index struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.IndexMetrics
	now     func() time.Time
	chains  map[uint64]string
}

// Open connects to the database at dsn and migrates the schema. Postgres
// URLs and keyword DSNs select the postgres driver; anything else is a
// sqlite DSN.
func Open(dsn string, log *slog.Logger) (*Index, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("index: dsn required")
	}
	db, err := gorm.Open(dialector(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return New(db, log)
}

func dialector(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.HasPrefix(lower, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// New wraps an existing database handle.
func New(db *gorm.DB, log *slog.Logger) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("index: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		db:      db,
		logger:  log.With("component", "index"),
		metrics: metrics.Index(),
		now:     time.Now,
		chains:  make(map[uint64]string),
	}, nil
}

// Close releases the underlying connection.
func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NameChain lets the index resolve chain ids carried by transport events.
// It must be called before events start flowing.
func (i *Index) NameChain(id uint64, name string) {
	i.chains[id] = name
}

func (i *Index) chainName(raw string) string {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return raw
	}
	if name, ok := i.chains[id]; ok {
		return name
	}
	return raw
}

// Emitter returns an events.Emitter that indexes the committed events of
// chain.
func (i *Index) Emitter(chain string) events.Emitter {
	i.metrics.InitChain(chain)
	return chainEmitter{index: i, chain: chain}
}

type chainEmitter struct {
	index *Index
	chain string
}

func (e chainEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if err := e.index.record(context.Background(), e.chain, evt); err != nil {
		e.index.metrics.IncWriteFailure(e.chain)
		e.index.logger.Error("index event failed", "chain", e.chain, "type", evt.EventType(), "error", err)
	}
}

func (i *Index) record(ctx context.Context, chain string, evt events.Event) error {
	flat := events.Flatten(evt)
	attrs := flat.Attributes
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	now := i.now().UTC()
	row := EventRow{
		ID:         uuid.New(),
		Chain:      chain,
		Type:       flat.Type,
		MessageID:  attrs["messageId"],
		Token:      attrs["token"],
		Attributes: string(encoded),
		CreatedAt:  now,
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if row.MessageID == "" {
			return nil
		}
		return i.applyMessage(tx, chain, flat.Type, attrs, now)
	})
	if err != nil {
		return err
	}
	i.metrics.ObserveRow(chain, flat.Type)
	i.metrics.SetLastEvent(chain, now.Unix())
	return nil
}

func (i *Index) applyMessage(tx *gorm.DB, chain, eventType string, attrs map[string]string, now time.Time) error {
	id := attrs["messageId"]
	var msg MessageRow
	err := tx.First(&msg, "message_id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		msg = MessageRow{MessageID: id, Status: StatusPending, CreatedAt: now}
	case err != nil:
		return fmt.Errorf("load message: %w", err)
	}
	switch eventType {
	case amb.EventTypeUserRequest:
		msg.SourceChain = chain
		msg.DestinationChain = i.chainName(attrs["destinationChainId"])
		if dataType, err := strconv.ParseUint(attrs["dataType"], 10, 8); err == nil {
			msg.Manual = byte(dataType)&amb.DataTypeManual != 0
		}
	case events.TypeTokensBridgingInitiated:
		msg.SourceChain = chain
		msg.Token = attrs["token"]
		msg.Sender = attrs["sender"]
		msg.Value = attrs["value"]
	case amb.EventTypeRelayedMessage:
		msg.DestinationChain = chain
		if attrs["status"] == "true" {
			msg.Status = promote(msg.Status, StatusExecuted)
			msg.Error = ""
		} else {
			msg.Status = promote(msg.Status, StatusFailed)
			msg.Error = attrs["error"]
		}
	case events.TypeTokensBridged:
		msg.Recipient = attrs["recipient"]
	case events.TypeFailedMessageFixed:
		msg.Status = StatusFixed
		i.metrics.IncFixed()
	default:
		if msg.CreatedAt.Equal(now) {
			// Fee and rule events reference messages without describing them.
			return nil
		}
	}
	msg.UpdatedAt = now
	if err := tx.Save(&msg).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// promote never moves a fixed message back to an execution state.
func promote(current, next string) string {
	if current == StatusFixed {
		return current
	}
	return next
}

// Message returns the lifecycle row of id.
func (i *Index) Message(ctx context.Context, id string) (MessageRow, error) {
	var msg MessageRow
	err := i.db.WithContext(ctx).First(&msg, "message_id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return msg, ErrNotFound
	}
	if err != nil {
		return msg, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// Filter narrows a message listing.
type Filter struct {
	Chain  string
	Status string
	Token  string
	Limit  int
}

// Messages lists indexed messages, newest first.
func (i *Index) Messages(ctx context.Context, f Filter) ([]MessageRow, error) {
	q := i.db.WithContext(ctx).Model(&MessageRow{})
	if f.Chain != "" {
		q = q.Where("source_chain = ?", f.Chain)
	}
	if f.Status != "" {
		q = q.Where("status = ?", strings.ToUpper(f.Status))
	}
	if f.Token != "" {
		q = q.Where("token = ?", f.Token)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []MessageRow
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return rows, nil
}

// Events returns every indexed event referencing message id in commit order.
func (i *Index) Events(ctx context.Context, id string) ([]EventRow, error) {
	var rows []EventRow
	err := i.db.WithContext(ctx).
		Where("message_id = ?", strings.TrimSpace(id)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return rows, nil
}
