package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odata-sql/internal/ast"
	"odata-sql/internal/config"
	"odata-sql/internal/logging"
	"odata-sql/internal/testutil"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text", Output: io.Discard})
}

func intPtr(v int) *int { return &v }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	schemaPath := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testutil.SchemaYAML), 0o600))

	cfg, err := config.LoadFromReader(bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	cfg.Schema.File = schemaPath
	cfg.Database.Driver = "sqlite"
	cfg.Database.Database = testutil.NewSQLiteFile(t)
	return cfg
}

func ordersRequest() *ast.Request {
	return &ast.Request{
		EntitySet: "Orders",
		Filter:    ast.Binary(ast.OpGe, ast.Prop("Amount"), ast.Const(12.5)),
		Select: &ast.SelectExpand{
			Select: []string{"Id"},
			Expand: []ast.ExpandItem{{Navigation: "Product", Nested: &ast.SelectExpand{Select: []string{"Name"}}}},
		},
		Count: true,
		Top:   intPtr(2),
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger())
	assert.Error(t, err)
	_, err = New(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestShutdown_IdempotentAndReversed(t *testing.T) {
	a := &App{logger: testLogger()}
	var order []string
	a.cleanup.push("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	a.cleanup.push("second", func(context.Context) error {
		order = append(order, "second")
		return assert.AnError
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestInit_RequiresSchemaFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schema.File = ""
	err := newApp(t, cfg).Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema.file")
}

func TestCompile_WithoutDatabase(t *testing.T) {
	a := newApp(t, testConfig(t))
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, a.Init(context.Background()))

	result, err := a.Compile(context.Background(), ordersRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, result.CompileID)
	assert.Equal(t, "sqlite", result.Plan.Dialect)
	assert.NotNil(t, result.Plan.Count)
	assert.Nil(t, result.Page)

	_, err = a.Run(context.Background(), ordersRequest(), "")
	assert.ErrorContains(t, err, "not connected")
}

func TestInit_AppliesSchemaFilters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schema.Filters.DenyEntitySets = []string{"Products"}
	a := newApp(t, cfg)
	require.NoError(t, a.Init(context.Background()))

	assert.NotContains(t, a.Schema().EntitySets, "Products")
	_, err := a.Compile(context.Background(), ordersRequest())
	assert.Error(t, err, "Product is no longer reachable from Orders")

	req := ordersRequest()
	req.Select.Expand = nil
	_, err = a.Compile(context.Background(), req)
	assert.NoError(t, err)
}

func TestConnect_BeforeInitFails(t *testing.T) {
	err := newApp(t, testConfig(t)).Connect(context.Background())
	assert.ErrorContains(t, err, "not initialized")
}

func TestRun_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricsEnabled = true
	a := newApp(t, cfg)
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, a.Connect(context.Background()))

	result, err := a.Run(context.Background(), ordersRequest(), "")
	require.NoError(t, err)
	require.NotNil(t, result.Page)
	require.NotNil(t, result.Page.Count)
	assert.Equal(t, int64(4), *result.Page.Count)
	assert.Equal(t, []map[string]any{
		{"Id": int64(1), "Product": map[string]any{"Name": "Hammer"}},
		{"Id": int64(3), "Product": map[string]any{"Name": "Rake"}},
	}, result.Page.Items)
	assert.NotEmpty(t, result.Page.NextSkipToken)

	next := ordersRequest()
	next.SkipToken = result.Page.NextSkipToken
	result, err = a.Run(context.Background(), next, "")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"Id": int64(4), "Product": map[string]any{"Name": "Spade"}},
		{"Id": int64(5), "Product": map[string]any{"Name": "Hammer"}},
	}, result.Page.Items)
	assert.Empty(t, result.Page.NextSkipToken)

	var metrics bytes.Buffer
	require.NoError(t, a.WriteMetrics(&metrics))
	assert.Contains(t, metrics.String(), "odata_compile_total")
	assert.Contains(t, metrics.String(), `entity_set="Orders"`)
}

func TestRun_RoleRequiresConfiguration(t *testing.T) {
	a := newApp(t, testConfig(t))
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, a.Connect(context.Background()))

	_, err := a.Run(context.Background(), ordersRequest(), "reader")
	assert.ErrorContains(t, err, "not configured")
}

func TestWriteMetrics_Disabled(t *testing.T) {
	a := newApp(t, testConfig(t))
	require.NoError(t, a.Init(context.Background()))
	assert.Error(t, a.WriteMetrics(io.Discard))
}

func TestInitLogger_Plain(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	logger, provider, err := InitLogger(context.Background(), cfg, &out)
	require.NoError(t, err)
	assert.Nil(t, provider)
	logger.Info("hello")
	assert.Contains(t, out.String(), "hello")
}
