package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"odata-sql/internal/dialect"
)

type roleContextKey struct{}

// WithRole asks the role executor to run the statements of ctx under role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleContextKey{}, role)
}

// RoleFromContext returns the role set by WithRole.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleContextKey{}).(string)
	return role, ok && role != ""
}

// RoleExecutor executes queries using SET ROLE on a dedicated connection.
type RoleExecutor struct {
	db           *sql.DB
	dialect      *dialect.Dialect
	defaultRole  string
	allowedRoles map[string]struct{}
	validateRole bool
}

// RoleExecutorConfig controls role execution behavior.
type RoleExecutorConfig struct {
	DB      *sql.DB
	Dialect *dialect.Dialect
	// DefaultRole applies when the context carries no role.
	DefaultRole  string
	AllowedRoles []string
	ValidateRole bool
}

// NewRoleExecutor creates an executor that applies SET ROLE before each query, so that
// the database enforces what a caller may read. SQLite has no roles.
func NewRoleExecutor(cfg RoleExecutorConfig) (*RoleExecutor, error) {
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("role executor requires a dialect")
	}
	if cfg.Dialect.Name == "sqlite" {
		return nil, fmt.Errorf("dialect %s does not support SET ROLE", cfg.Dialect.Name)
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = struct{}{}
	}
	return &RoleExecutor{
		db:           cfg.DB,
		dialect:      cfg.Dialect,
		defaultRole:  cfg.DefaultRole,
		allowedRoles: allowed,
		validateRole: cfg.ValidateRole,
	}, nil
}

func (e *RoleExecutor) role(ctx context.Context) string {
	if role, ok := RoleFromContext(ctx); ok {
		return role
	}
	return e.defaultRole
}

func (e *RoleExecutor) resetStatement() string {
	if e.dialect.Name == "postgres" {
		return "RESET ROLE"
	}
	return "SET ROLE DEFAULT"
}

func (e *RoleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	role := e.role(ctx)
	if role != "" && e.validateRole {
		if _, allowed := e.allowedRoles[role]; !allowed {
			return nil, fmt.Errorf("role not allowed: %s", role)
		}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	cleanup := func() {
		_, _ = conn.ExecContext(context.Background(), e.resetStatement())
		_ = conn.Close()
	}

	if role != "" {
		// SET ROLE takes no parameters; the role is quoted as an identifier
		if _, err := conn.ExecContext(ctx, "SET ROLE "+e.dialect.QuoteIdentifier(role)); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to set role %s: %w", role, err)
		}
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &roleAwareRows{Rows: rows, cleanup: cleanup}, nil
}

type roleAwareRows struct {
	*sql.Rows
	cleanup func()
}

func (r *roleAwareRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
