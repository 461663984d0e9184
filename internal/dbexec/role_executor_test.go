package dbexec

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/dialect"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func drain(t *testing.T, rows Rows) int {
	t.Helper()
	n := 0
	for rows.Next() {
		n++
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	return n
}

func TestRoleExecutor_SetsAndResetsRole(t *testing.T) {
	tests := []struct {
		name    string
		dialect *dialect.Dialect
		set     string
		reset   string
	}{
		{name: "mysql", dialect: dialect.MySQL(), set: "SET ROLE `analyst`", reset: "SET ROLE DEFAULT"},
		{name: "postgres", dialect: dialect.Postgres(), set: `SET ROLE "analyst"`, reset: "RESET ROLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectExec(tt.set).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"c0"}).AddRow(1))
			mock.ExpectExec(tt.reset).WillReturnResult(sqlmock.NewResult(0, 0))

			executor, err := NewRoleExecutor(RoleExecutorConfig{DB: db, Dialect: tt.dialect, DefaultRole: "reader"})
			require.NoError(t, err)

			rows, err := executor.QueryContext(WithRole(context.Background(), "analyst"), "SELECT 1")
			require.NoError(t, err)
			assert.Equal(t, 1, drain(t, rows))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRoleExecutor_DefaultRole(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("SET ROLE `reader`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"c0"}))
	mock.ExpectExec("SET ROLE DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	executor, err := NewRoleExecutor(RoleExecutorConfig{DB: db, Dialect: dialect.MySQL(), DefaultRole: "reader"})
	require.NoError(t, err)
	rows, err := executor.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 0, drain(t, rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_Validation(t *testing.T) {
	tests := []struct {
		name         string
		role         string
		allowedRoles []string
		validateRole bool
		expectValid  bool
	}{
		{name: "valid role with validation enabled", role: "app_analyst", allowedRoles: []string{"app_admin", "app_analyst"}, validateRole: true, expectValid: true},
		{name: "invalid role with validation enabled", role: "superuser", allowedRoles: []string{"app_admin"}, validateRole: true, expectValid: false},
		{name: "invalid role with validation disabled", role: "superuser", allowedRoles: []string{"app_admin"}, validateRole: false, expectValid: true},
		{name: "no role provided", role: "", allowedRoles: []string{"app_admin"}, validateRole: true, expectValid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			if tt.expectValid {
				if tt.role != "" {
					mock.ExpectExec("SET ROLE `" + tt.role + "`").WillReturnResult(sqlmock.NewResult(0, 0))
				}
				mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"c0"}))
				mock.ExpectExec("SET ROLE DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))
			}

			executor, err := NewRoleExecutor(RoleExecutorConfig{
				DB:           db,
				Dialect:      dialect.MySQL(),
				AllowedRoles: tt.allowedRoles,
				ValidateRole: tt.validateRole,
			})
			require.NoError(t, err)

			rows, err := executor.QueryContext(WithRole(context.Background(), tt.role), "SELECT 1")
			if !tt.expectValid {
				assert.ErrorContains(t, err, "role not allowed")
				return
			}
			require.NoError(t, err)
			drain(t, rows)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRoleExecutor_SetRoleFailureReleasesConnection(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("SET ROLE `analyst`").WillReturnError(assert.AnError)
	mock.ExpectExec("SET ROLE DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	executor, err := NewRoleExecutor(RoleExecutorConfig{DB: db, Dialect: dialect.MySQL()})
	require.NoError(t, err)
	_, err = executor.QueryContext(WithRole(context.Background(), "analyst"), "SELECT 1")
	assert.ErrorContains(t, err, "failed to set role analyst")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRoleExecutor_RejectsSQLite(t *testing.T) {
	_, err := NewRoleExecutor(RoleExecutorConfig{Dialect: dialect.SQLite()})
	assert.Error(t, err)
	_, err = NewRoleExecutor(RoleExecutorConfig{})
	assert.Error(t, err)
}

func TestStandardExecutor_NilDB(t *testing.T) {
	executor := &StandardExecutor{}
	_, err := executor.QueryContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
