package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"

	"github.com/lib/pq"

	"github.com/kapu/dealsync-go/pkg/errors"
)

// translate maps driver errors to StoreError kinds so callers can decide on
// retries without inspecting messages. Errors it cannot place are returned
// unchanged.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *errors.StoreError
	if stderrors.As(err, &storeErr) {
		return err
	}
	if kind, ok := classify(err); ok {
		return errors.NewStoreError(op, kind, err)
	}
	return err
}

func classify(err error) (errors.StoreErrorKind, bool) {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.StoreKindTimeout, true
	}
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, sql.ErrConnDone) {
		return errors.StoreKindUnavailable, true
	}

	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return "", false
	}

	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return errors.StoreKindConflict, true
	case "23505": // unique_violation: a concurrent writer got there first
		return errors.StoreKindConflict, true
	case "57014": // query_canceled (statement timeout or context deadline)
		return errors.StoreKindTimeout, true
	case "53300", "57P01", "57P02", "57P03": // too_many_connections, admin/crash shutdown, cannot_connect_now
		return errors.StoreKindUnavailable, true
	}

	switch pqErr.Code.Class() {
	case "08": // connection exception
		return errors.StoreKindUnavailable, true
	case "22", "23", "42": // data exception, integrity violation, syntax/access
		return errors.StoreKindInvalid, true
	}
	return errors.StoreKindTransient, true
}
