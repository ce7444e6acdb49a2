package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Классы SQLSTATE, после которых имеет смысл повторить попытку:
// 08 соединение, 40 откат транзакции (serialization/deadlock),
// 53 нехватка ресурсов, 57 вмешательство оператора (admin shutdown и т.п.).
var transientClasses = map[string]struct{}{
	"08": {},
	"40": {},
	"53": {},
	"57": {},
}

const uniqueViolation = "23505"

// IsTransient классифицирует ошибку хранилища как повторяемую.
// Нарушения схемы и ограничений постоянные.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		_, ok := transientClasses[pgErr.Code[:2]]
		return ok
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
