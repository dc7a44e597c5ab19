package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store error kinds. Duplicate readings are not errors.
var (
	ErrUnavailable         = errors.New("store unavailable")
	ErrConstraintViolation = errors.New("store constraint violation")
)

// StoreError carries the failed operation and its kind.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("repository: %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the driver error to errors.Is/As.
func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify maps driver errors onto the store taxonomy. Integrity (23xxx) and
// schema (42xxx) SQLSTATE classes are constraint violations; everything else,
// including connection failures and timeouts, is reported as unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	kind := ErrUnavailable
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23", "42":
			kind = ErrConstraintViolation
		}
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}
