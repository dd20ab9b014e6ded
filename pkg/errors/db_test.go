package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyDBErrorNil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
}

func TestClassifyDBErrorNotFound(t *testing.T) {
	dbErr := ClassifyDBError(gorm.ErrRecordNotFound)
	require.NotNil(t, dbErr)
	assert.Equal(t, DBErrorNotFound, dbErr.Type)

	wrapped := fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound)
	assert.True(t, IsNotFoundError(wrapped))
}

func TestClassifyDBErrorDuplicateKey(t *testing.T) {
	err := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'job-1' for key 'job_id'"}

	dbErr := ClassifyDBError(err)
	require.NotNil(t, dbErr)
	assert.Equal(t, DBErrorDuplicateKey, dbErr.Type)
	assert.Equal(t, uint16(1062), dbErr.MySQLErrCode)
	assert.True(t, IsDuplicateKeyError(err))
	assert.True(t, IsDuplicateKeyError(fmt.Errorf("append: %w", err)))
}

func TestClassifyDBErrorDeadlock(t *testing.T) {
	err := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}

	dbErr := ClassifyDBError(err)
	require.NotNil(t, dbErr)
	assert.Equal(t, DBErrorDeadlock, dbErr.Type)
	assert.False(t, IsDuplicateKeyError(err))
}

func TestClassifyDBErrorOtherMySQLCode(t *testing.T) {
	err := &mysql.MySQLError{Number: 1040, Message: "Too many connections"}

	dbErr := ClassifyDBError(err)
	require.NotNil(t, dbErr)
	assert.Equal(t, DBErrorUnknown, dbErr.Type)
	assert.Equal(t, uint16(1040), dbErr.MySQLErrCode)
}

func TestClassifyDBErrorConnection(t *testing.T) {
	dbErr := ClassifyDBError(stderrors.New("dial tcp 10.0.0.2:3306: connection refused"))
	require.NotNil(t, dbErr)
	assert.Equal(t, DBErrorConnection, dbErr.Type)
}

func TestClassifyDBErrorUnknown(t *testing.T) {
	dbErr := ClassifyDBError(stderrors.New("some application error"))
	require.NotNil(t, dbErr)
	assert.Equal(t, DBErrorUnknown, dbErr.Type)
	assert.Zero(t, dbErr.MySQLErrCode)
}
