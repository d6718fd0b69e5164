package warehouse

import (
	"github.com/jackc/pgx/v5"
)

// Schemas holding the staging and production tables
const (
	SchemaStaging = "stg"
	SchemaProd    = "prod"
)

// Table identifies a schema-qualified warehouse table
type Table struct {
	Schema string
	Name   string
}

// Staging returns the staging table for a dataset
func Staging(name string) Table {
	return Table{Schema: SchemaStaging, Name: name}
}

// Prod returns the production table for a dataset
func Prod(name string) Table {
	return Table{Schema: SchemaProd, Name: name}
}

// Identifier returns the table as a pgx identifier
func (t Table) Identifier() pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}
	}

	return pgx.Identifier{t.Schema, t.Name}
}

// Sanitize returns the quoted, schema-qualified table name
func (t Table) Sanitize() string {
	return t.Identifier().Sanitize()
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}

	return t.Schema + "." + t.Name
}
