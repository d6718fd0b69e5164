package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethpandaops/medallion/pkg/warehouse"
)

// Statement is a statement executed against the fake warehouse
type Statement struct {
	SQL  string
	Args []any
}

// Copy is a CopyFrom call recorded by the fake warehouse
type Copy struct {
	Table   warehouse.Table
	Columns []string
	Rows    [][]any
}

// Warehouse is a recording warehouse.ClientInterface for unit tests. Copied
// rows are kept per table and TRUNCATE statements clear them, so tests can
// assert on staging contents. Transactions work on a snapshot that is only
// published on commit.
type Warehouse struct {
	mu sync.Mutex

	tables     map[string][][]any
	statements []Statement
	copies     []Copy
	commits    int
	rollbacks  int

	// ExecFunc, when set, supplies the affected row count for Exec. It
	// receives the uncommitted view of the tables and may change it.
	ExecFunc func(view *TableView, sql string, args []any) (int64, error)
	// QueryFunc, when set, supplies result rows for Query. It receives the
	// uncommitted view of the tables.
	QueryFunc func(view *TableView, sql string, args []any) ([][]any, error)
	// FailOn, when set, is consulted before every statement and copy; the
	// statement text for a copy is "COPY <table>"
	FailOn func(sql string) error
}

var _ warehouse.ClientInterface = (*Warehouse)(nil)

// TableView exposes table contents inside a fake transaction
type TableView struct {
	tables map[string][][]any
}

// Rows returns the rows currently held for table
func (v *TableView) Rows(table warehouse.Table) [][]any {
	return v.tables[table.Sanitize()]
}

// SetRows replaces the rows held for table
func (v *TableView) SetRows(table warehouse.Table, rows [][]any) {
	v.tables[table.Sanitize()] = rows
}

// NewWarehouse creates an empty fake warehouse
func NewWarehouse() *Warehouse {
	return &Warehouse{tables: make(map[string][][]any)}
}

// Start is a no-op
func (w *Warehouse) Start(_ context.Context) error {
	return nil
}

// Stop is a no-op
func (w *Warehouse) Stop() error {
	return nil
}

// Execute runs a statement in its own implicit transaction
func (w *Warehouse) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64

	err := w.InTx(ctx, func(tx warehouse.Tx) error {
		var err error
		n, err = tx.Exec(ctx, sql, args...)

		return err
	})

	return n, err
}

// InTx runs fn against a snapshot of the tables and publishes it on success
func (w *Warehouse) InTx(_ context.Context, fn func(tx warehouse.Tx) error) error {
	w.mu.Lock()
	snapshot := make(map[string][][]any, len(w.tables))
	for name, rows := range w.tables {
		snapshot[name] = append([][]any(nil), rows...)
	}
	w.mu.Unlock()

	ftx := &fakeTx{w: w, view: &TableView{tables: snapshot}}

	if err := fn(ftx); err != nil {
		w.mu.Lock()
		w.rollbacks++
		w.mu.Unlock()

		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.tables = ftx.view.tables
	w.statements = append(w.statements, ftx.statements...)
	w.copies = append(w.copies, ftx.copies...)
	w.commits++

	return nil
}

// Rows returns the committed rows of table
func (w *Warehouse) Rows(table warehouse.Table) [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([][]any(nil), w.tables[table.Sanitize()]...)
}

// SetRows seeds committed rows for table
func (w *Warehouse) SetRows(table warehouse.Table, rows [][]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tables[table.Sanitize()] = rows
}

// Statements returns the committed statements in execution order
func (w *Warehouse) Statements() []Statement {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]Statement(nil), w.statements...)
}

// StatementsWithPrefix returns committed statements starting with prefix
func (w *Warehouse) StatementsWithPrefix(prefix string) []Statement {
	var out []Statement

	for _, stmt := range w.Statements() {
		if strings.HasPrefix(stmt.SQL, prefix) {
			out = append(out, stmt)
		}
	}

	return out
}

// Copies returns the committed CopyFrom calls
func (w *Warehouse) Copies() []Copy {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]Copy(nil), w.copies...)
}

// Commits returns the number of committed transactions
func (w *Warehouse) Commits() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.commits
}

// Rollbacks returns the number of rolled back transactions
func (w *Warehouse) Rollbacks() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.rollbacks
}

type fakeTx struct {
	w          *Warehouse
	view       *TableView
	statements []Statement
	copies     []Copy
}

func (t *fakeTx) fail(sql string) error {
	if t.w.FailOn == nil {
		return nil
	}

	if err := t.w.FailOn(sql); err != nil {
		return fmt.Errorf("%w: %w", warehouse.ErrUnavailable, err)
	}

	return nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	if err := t.fail(sql); err != nil {
		return 0, err
	}

	t.statements = append(t.statements, Statement{SQL: sql, Args: args})

	var affected int64

	if name, ok := strings.CutPrefix(sql, "TRUNCATE TABLE "); ok {
		name = strings.TrimSpace(name)
		affected = int64(len(t.view.tables[name]))
		delete(t.view.tables, name)
	}

	if t.w.ExecFunc != nil {
		return t.w.ExecFunc(t.view, sql, args)
	}

	return affected, nil
}

func (t *fakeTx) CopyFrom(_ context.Context, table warehouse.Table, columns []string, rows [][]any) (int64, error) {
	if err := t.fail("COPY " + table.String()); err != nil {
		return 0, err
	}

	copied := make([][]any, len(rows))
	for i, row := range rows {
		copied[i] = append([]any(nil), row...)
	}

	name := table.Sanitize()
	t.view.tables[name] = append(t.view.tables[name], copied...)
	t.copies = append(t.copies, Copy{Table: table, Columns: columns, Rows: copied})

	return int64(len(rows)), nil
}

func (t *fakeTx) Query(_ context.Context, sql string, args []any, scan func(values []any) error) error {
	if err := t.fail(sql); err != nil {
		return err
	}

	t.statements = append(t.statements, Statement{SQL: sql, Args: args})

	if t.w.QueryFunc == nil {
		return nil
	}

	rows, err := t.w.QueryFunc(t.view, sql, args)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := scan(row); err != nil {
			return err
		}
	}

	return nil
}
