package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

type callRecordRow struct {
	bun.BaseModel `bun:"table:call_records,alias:cr"`

	ID            string        `bun:"id,pk"`
	CallID        string        `bun:"call_id,notnull"`
	CustomerPhone string        `bun:"customer_phone"`
	CustomerID    string        `bun:"customer_id"`
	CustomerName  string        `bun:"customer_name"`
	FinalIntent   string        `bun:"final_intent"`
	EndReason     string        `bun:"end_reason,notnull"`
	OrderIDs      []string      `bun:"order_ids,array"`
	Turns         []statex.Turn `bun:"turns,type:jsonb"`
	StartedAt     time.Time     `bun:"started_at,notnull"`
	EndedAt       time.Time     `bun:"ended_at,notnull"`
}

func rowFromRecord(rec contractx.CallRecord) *callRecordRow {
	return &callRecordRow{
		ID:            rec.ID,
		CallID:        rec.CallID,
		CustomerPhone: rec.CustomerPhone,
		CustomerID:    rec.CustomerID,
		CustomerName:  rec.CustomerName,
		FinalIntent:   rec.FinalIntent,
		EndReason:     rec.EndReason,
		OrderIDs:      append([]string{}, rec.OrderIDs...),
		Turns:         append([]statex.Turn{}, rec.Turns...),
		StartedAt:     rec.StartedAt.UTC(),
		EndedAt:       rec.EndedAt.UTC(),
	}
}

var _ contractx.CallRecorder = (*PostgresSink)(nil)

// PostgresSink appends call records to the call_records table.
type PostgresSink struct {
	db *bun.DB
}

// OpenPostgres builds a bun handle; no connection is made until first use.
func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func NewPostgresSink(db *bun.DB) (*PostgresSink, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &PostgresSink{db: db}, nil
}

// EnsureSchema creates the call_records table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*callRecordRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create call_records table: %w", err)
	}
	return nil
}

func (s *PostgresSink) RecordCall(ctx context.Context, rec contractx.CallRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}
	if _, err := s.insertQuery(rec).Exec(ctx); err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (s *PostgresSink) insertQuery(rec contractx.CallRecord) *bun.InsertQuery {
	return s.db.NewInsert().Model(rowFromRecord(rec)).On("CONFLICT (id) DO NOTHING")
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
