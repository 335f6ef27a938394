package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Select_ReturnsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := NewForTesting(db)

	mock.ExpectQuery("SELECT id, name FROM users WHERE id = \\$1").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ada"))

	res, err := a.Execute(context.Background(), "SELECT id, name FROM users WHERE id = $1", []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0][0])
	assert.Equal(t, "ada", res.Rows[0][1])
	assert.Equal(t, int64(1), res.RowsAffected)
}

func TestExecute_Insert_ReportsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := NewForTesting(db)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("ada").
		WillReturnResult(sqlmock.NewResult(7, 1))

	res, err := a.Execute(context.Background(), "INSERT INTO users (name) VALUES ($1)", []any{"ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Empty(t, res.Columns)
}

func TestExecute_ConstraintViolation_MapsToCodedError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := NewForTesting(db)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("ada").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err = a.Execute(context.Background(), "INSERT INTO users (name) VALUES ($1)", []any{"ada"})
	require.Error(t, err)

	var coded interface{ Code() any }
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, "SQLITE_CONSTRAINT_UNIQUE", coded.Code())
}

func TestIsReadStatement(t *testing.T) {
	assert.True(t, isReadStatement("  select 1"))
	assert.True(t, isReadStatement("WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.False(t, isReadStatement("INSERT INTO t VALUES (1)"))
	assert.False(t, isReadStatement("update t set x = 1"))
}

func TestValidateConfig(t *testing.T) {
	valid := Config{Host: "localhost", Port: "5432", User: "apprun", DBName: "apprun", SSLMode: "disable"}
	assert.NoError(t, validateConfig(valid))

	bad := valid
	bad.Port = "not-a-port"
	assert.Error(t, validateConfig(bad))

	bad2 := valid
	bad2.User = "bad user; drop table"
	assert.Error(t, validateConfig(bad2))
}
