package errors

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// DBErrorUnknown represents an unknown database error.
	DBErrorUnknown DatabaseErrorType = iota
	// DBErrorDuplicateKey represents a duplicate key constraint violation (MySQL 1062).
	DBErrorDuplicateKey
	// DBErrorNotFound represents a record not found error.
	DBErrorNotFound
	// DBErrorDeadlock represents a deadlock error (MySQL 1213).
	DBErrorDeadlock
	// DBErrorConnection represents a database connection error.
	DBErrorConnection
)

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyDBError classifies a database error. The dead-letter store uses
// it to distinguish duplicate appends and transient deadlocks from real
// persistence failures.
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: DBErrorNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062: // ER_DUP_ENTRY
			return &DatabaseError{
				Type:         DBErrorDuplicateKey,
				OriginalErr:  err,
				MySQLErrCode: mysqlErr.Number,
				Message:      "duplicate key constraint violation",
			}
		case 1213: // ER_LOCK_DEADLOCK
			return &DatabaseError{
				Type:         DBErrorDeadlock,
				OriginalErr:  err,
				MySQLErrCode: mysqlErr.Number,
				Message:      "deadlock detected",
			}
		default:
			return &DatabaseError{
				Type:         DBErrorUnknown,
				OriginalErr:  err,
				MySQLErrCode: mysqlErr.Number,
				Message:      "MySQL error",
			}
		}
	}

	if isConnectionError(err.Error()) {
		return &DatabaseError{Type: DBErrorConnection, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: DBErrorUnknown, OriginalErr: err, Message: "unknown database error"}
}

// IsDuplicateKeyError checks if the error is a duplicate key constraint violation.
func IsDuplicateKeyError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == DBErrorDuplicateKey
}

// IsNotFoundError checks if the error is a record not found error.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == DBErrorNotFound
}
