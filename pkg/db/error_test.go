package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{{
		name: "nil",
		err:  nil,
		want: false,
	}, {
		name: "gorm translated",
		err:  gorm.ErrDuplicatedKey,
		want: true,
	}, {
		name: "wrapped gorm translated",
		err:  fmt.Errorf("insert event: %w", gorm.ErrDuplicatedKey),
		want: true,
	}, {
		name: "pgconn unique violation",
		err:  &pgconn.PgError{Code: "23505", Message: "duplicate key value"},
		want: true,
	}, {
		name: "pgconn other sqlstate",
		err:  &pgconn.PgError{Code: "23503", Message: "foreign key violation"},
		want: false,
	}, {
		name: "postgres message fallback",
		err:  errors.New(`ERROR: duplicate key value violates unique constraint "idx_webhook_events_event_id"`),
		want: true,
	}, {
		name: "mysql duplicate entry",
		err:  errors.New("Error 1062 (23000): Duplicate entry 'payment_completion_pi_1'"),
		want: true,
	}, {
		name: "sqlite unique",
		err:  errors.New("UNIQUE constraint failed: webhook_events.event_id"),
		want: true,
	}, {
		name: "unrelated",
		err:  errors.New("connection refused"),
		want: false,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tt.err); got != tt.want {
				t.Fatalf("IsDuplicateKeyErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
