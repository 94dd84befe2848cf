package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: "23P01"})
	if !IsExclusionViolation(wrapped) {
		t.Fatal("expected exclusion violation through wrapping")
	}
	if IsUniqueViolation(wrapped) {
		t.Fatal("exclusion violation must not be reported as unique violation")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation")
	}
	if !IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatal("expected not found through wrapping")
	}
	if IsForeignKeyViolation(nil) {
		t.Fatal("nil error is not a violation")
	}
}

func TestInvalidInput(t *testing.T) {
	if !IsInvalidInput(&pgconn.PgError{Code: "22P02"}) {
		t.Fatal("expected 22P02 to be invalid input")
	}
}
