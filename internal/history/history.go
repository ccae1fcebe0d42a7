// Package history persists finished call records so operators can look
// back at who called.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/sweeney/callpop/internal/config"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("history: not found")

// Record is one persisted call with its final customer data.
type Record struct {
	ID          string          `json:"id"`
	CallID      string          `json:"callId"`
	Operator    string          `json:"operator"`
	PhoneNumber string          `json:"phoneNumber"`
	CallerName  string          `json:"callerName,omitempty"`
	Cached      bool            `json:"cached"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store is the durable call history.
type Store interface {
	// Insert stores rec unless a record for rec.CallID already exists.
	// It reports whether rec was written.
	Insert(ctx context.Context, rec Record) (bool, error)
	// ByOperator returns the newest records for operator, newest first.
	ByOperator(ctx context.Context, operator string, limit int) ([]Record, error)
	// Get returns the record whose id or call id equals key.
	Get(ctx context.Context, key string) (Record, error)
	Close() error
}

// Open opens the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

func validate(rec Record) error {
	if rec.ID == "" || rec.CallID == "" || rec.Operator == "" {
		return fmt.Errorf("history: record needs id, call id and operator")
	}
	return nil
}
