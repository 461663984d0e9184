// Package testutil provides the shared fixture schema and an isolated SQLite database
// seeded with matching rows for tests that execute compiled plans.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"odata-sql/internal/schema"
)

// SchemaYAML describes the fixture model: products with a category, orders placed by
// customers, and tags linked to products through a junction table.
const SchemaYAML = `
enums:
  - name: ProductStatus
    members: [Unknown, Active, Discontinued]
entityTypes:
  - name: Category
    entitySet: Categories
    properties:
      - {name: Id, type: Edm.Int32, key: true}
      - {name: Name, type: Edm.String}
  - name: Product
    properties:
      - {name: Id, type: Edm.Int64, key: true}
      - {name: Name, type: Edm.String}
      - {name: Status, enum: ProductStatus}
      - {name: Price, type: Edm.Decimal}
      - {name: Rating, type: Edm.Double, nullable: true}
      - {name: CategoryId, type: Edm.Int64, nullable: true}
    navigations:
      - name: Category
        target: Category
        constraint: [{local: CategoryId, remote: Id}]
      - name: Orders
        target: Order
        collection: true
        constraint: [{local: Id, remote: ProductId}]
      - name: Tags
        target: Tag
        junction:
          table: product_tags
          local: [{property: Id, column: product_id}]
          remote: [{property: Id, column: tag_id}]
  - name: Customer
    properties:
      - {name: Id, type: Edm.Int64, key: true}
      - {name: Name, type: Edm.String}
      - {name: Country, type: Edm.String, nullable: true}
    navigations:
      - name: Orders
        target: Order
        collection: true
        constraint: [{local: Id, remote: CustomerId}]
  - name: Order
    properties:
      - {name: Id, type: Edm.Int64, key: true}
      - {name: Amount, type: Edm.Decimal}
      - {name: Quantity, type: Edm.Int32}
      - {name: ProductId, type: Edm.Int64}
      - {name: CustomerId, type: Edm.Int64, nullable: true}
      - {name: PlacedAt, type: Edm.DateTimeOffset}
      - {name: Note, type: Edm.String, nullable: true}
    navigations:
      - name: Customer
        target: Customer
        constraint: [{local: CustomerId, remote: Id}]
      - name: Product
        target: Product
        constraint: [{local: ProductId, remote: Id}]
      - name: Warehouse
        target: Category
  - name: Tag
    properties:
      - {name: Id, type: Edm.Int64, key: true}
      - {name: Label, type: Edm.String}
`

// Schema returns the parsed fixture schema.
func Schema(t testing.TB) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(SchemaYAML))
	if err != nil {
		t.Fatalf("Failed to parse fixture schema: %v", err)
	}
	return s
}

var fixtureDDL = []string{
	`CREATE TABLE categories (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL, status TEXT NOT NULL,
		price NUMERIC NOT NULL, rating REAL, category_id INTEGER)`,
	`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, country TEXT)`,
	`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount NUMERIC NOT NULL, quantity INTEGER NOT NULL,
		product_id INTEGER NOT NULL, customer_id INTEGER, placed_at TEXT NOT NULL, note TEXT)`,
	`CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT NOT NULL)`,
	`CREATE TABLE product_tags (product_id INTEGER NOT NULL, tag_id INTEGER NOT NULL)`,
}

var fixtureRows = []string{
	`INSERT INTO categories VALUES (1, 'Tools'), (2, 'Garden')`,
	`INSERT INTO products VALUES
		(1, 'Hammer', 'Active', 12.5, 4.5, 1),
		(2, 'Hammer', 'Unknown', 9.99, NULL, 1),
		(3, 'Rake', 'Unknown', 15, 3.0, 2),
		(4, 'Rake', 'Unknown', 17, NULL, NULL),
		(5, 'Spade', 'Discontinued', 20, 4.0, 2),
		(6, 'Hammer', 'Unknown', 11, 2.5, NULL)`,
	`INSERT INTO customers VALUES (1, 'Ada', 'UK'), (2, 'Bo', NULL), (3, 'Cy', 'US')`,
	`INSERT INTO orders VALUES
		(1, 25.0, 2, 1, 1, '2024-01-02T10:00:00Z', NULL),
		(2, 9.99, 1, 2, 1, '2024-01-03T11:30:00Z', 'gift'),
		(3, 45.0, 3, 3, 2, '2024-02-01T09:15:00Z', NULL),
		(4, 20.0, 1, 5, NULL, '2024-02-10T16:45:00Z', 'guest'),
		(5, 12.5, 1, 1, 3, '2024-03-05T08:00:00Z', NULL)`,
	`INSERT INTO tags VALUES (1, 'steel'), (2, 'outdoor')`,
	`INSERT INTO product_tags VALUES (1, 1), (3, 2), (5, 1), (5, 2)`,
}

var dbCounter atomic.Int64

// NewSQLiteDB opens an isolated in-memory SQLite database seeded with the fixture rows.
// The database is closed when the test finishes.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	name := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", sanitizeName(t.Name()), dbCounter.Add(1))
	db, err := sql.Open("sqlite", name)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// a shared-cache memory database lives as long as one connection does
	db.SetMaxOpenConns(1)

	if err := seed(db); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to seed test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})
	return db
}

// NewSQLiteFile writes the seeded fixture database to a file under t.TempDir and returns
// its path, for tests that open the database by DSN.
func NewSQLiteFile(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer db.Close()
	if err := seed(db); err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return path
}

func seed(db *sql.DB) error {
	for _, stmt := range append(append([]string{}, fixtureDDL...), fixtureRows...) {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}
