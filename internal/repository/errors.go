// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as
// handlers and the token service to distinguish a missing row from a
// store failure.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when no row matches the lookup.  Handlers
// translate it into an HTTP 404, the auth chain into AccountNotFound.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update violates the unique
// constraint on username or email.
var ErrDuplicate = errors.New("duplicate")

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
