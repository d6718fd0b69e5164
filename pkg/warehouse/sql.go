package warehouse

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/jackc/pgx/v5"
)

const partitionBoundLayout = "2006-01-02 15:04:05"

const statementTemplates = `
{{- define "truncate" }}TRUNCATE TABLE {{ .Table.Sanitize }}{{ end }}

{{- define "upsert" -}}
INSERT INTO {{ .Target.Sanitize }} ({{ idents .Columns | join ", " }})
SELECT {{ idents .Columns | join ", " }} FROM {{ .Source.Sanitize }}
ON CONFLICT ({{ idents .Key | join ", " }})
{{- if .Mutable }} DO UPDATE SET {{ range $i, $c := .Mutable }}{{ if $i }}, {{ end }}{{ ident $c }} = EXCLUDED.{{ ident $c }}{{ end }}
{{- else }} DO NOTHING{{ end }}
{{- end }}

{{- define "ensure_partition" -}}
CREATE TABLE IF NOT EXISTS {{ .Partition.Sanitize }} PARTITION OF {{ .Parent.Sanitize }}
FOR VALUES FROM ({{ squote .From }}) TO ({{ squote .To }})
{{- end }}

{{- define "candidates" -}}
SELECT {{ range $i, $k := .Key }}{{ if $i }}, {{ end }}s.{{ ident $k }}::text{{ end }}
{{- range .Tracked }}, s.{{ ident . }}::text{{ end }},
c.{{ ident (index .Key 0) }} IS NOT NULL
{{- range .Tracked }}, c.{{ ident . }}::text{{ end }}
FROM {{ .Source.Sanitize }} AS s
LEFT JOIN {{ .Target.Sanitize }} AS c ON c.{{ ident .CurrentFlag }}
{{- range .Key }} AND c.{{ ident . }} = s.{{ ident . }}{{ end }}
ORDER BY {{ range $i, $k := .Key }}{{ if $i }}, {{ end }}s.{{ ident $k }}{{ end }}
{{- end }}

{{- define "close_version" -}}
UPDATE {{ .Target.Sanitize }} SET {{ ident .ValidTo }} = $1, {{ ident .CurrentFlag }} = FALSE
WHERE {{ ident .CurrentFlag }}{{ range $i, $k := .Key }} AND {{ ident $k }} = ${{ add $i 2 }}{{ end }}
{{- end }}
`

// UpsertParams describes an INSERT ... SELECT ... ON CONFLICT statement
type UpsertParams struct {
	Target  Table
	Source  Table
	Columns []string
	Key     []string
	// Mutable columns are overwritten on conflict; none means DO NOTHING
	Mutable []string
}

// CandidateParams describes the staged-versus-current comparison query. Every
// column is cast to text on both sides so values compare by their canonical
// Postgres representation.
type CandidateParams struct {
	Target      Table
	Source      Table
	Key         []string
	Tracked     []string
	CurrentFlag string
}

// CloseVersionParams describes the statement closing the current version of
// one key. $1 is the close time and the key values follow in order.
type CloseVersionParams struct {
	Target      Table
	Key         []string
	ValidTo     string
	CurrentFlag string
}

// Renderer renders warehouse statements from templates with Sprig functions
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates a statement renderer
func NewRenderer() *Renderer {
	funcMap := sprig.TxtFuncMap()
	funcMap["ident"] = Ident
	funcMap["idents"] = Idents

	return &Renderer{
		tmpl: template.Must(template.New("statements").Funcs(funcMap).Parse(statementTemplates)),
	}
}

// Ident quotes a single column identifier
func Ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Idents quotes a list of column identifiers
func Idents(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = Ident(name)
	}

	return out
}

// Truncate renders a TRUNCATE statement
func (r *Renderer) Truncate(table Table) (string, error) {
	return r.render("truncate", map[string]any{"Table": table})
}

// Upsert renders an INSERT ... SELECT ... ON CONFLICT statement
func (r *Renderer) Upsert(params UpsertParams) (string, error) {
	if len(params.Columns) == 0 || len(params.Key) == 0 {
		return "", fmt.Errorf("upsert into %s: %w", params.Target, ErrEmptyColumns)
	}

	return r.render("upsert", params)
}

// Candidates renders the staged-versus-current comparison query
func (r *Renderer) Candidates(params CandidateParams) (string, error) {
	if len(params.Key) == 0 {
		return "", fmt.Errorf("candidates for %s: %w", params.Target, ErrEmptyColumns)
	}

	return r.render("candidates", params)
}

// CloseVersion renders the statement closing the current version of one key
func (r *Renderer) CloseVersion(params CloseVersionParams) (string, error) {
	if len(params.Key) == 0 {
		return "", fmt.Errorf("close version in %s: %w", params.Target, ErrEmptyColumns)
	}

	return r.render("close_version", params)
}

// EnsureMonthlyPartition renders the DDL creating the partition of parent
// covering the calendar month of t, and returns the partition table
func (r *Renderer) EnsureMonthlyPartition(parent Table, t time.Time) (Table, string, error) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	partition := Table{
		Schema: parent.Schema,
		Name:   fmt.Sprintf("%s_%04d_%02d", parent.Name, from.Year(), int(from.Month())),
	}

	sql, err := r.render("ensure_partition", map[string]any{
		"Partition": partition,
		"Parent":    parent,
		"From":      from.Format(partitionBoundLayout),
		"To":        to.Format(partitionBoundLayout),
	})
	if err != nil {
		return Table{}, "", err
	}

	return partition, sql, nil
}

func (r *Renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s statement: %w", name, err)
	}

	return buf.String(), nil
}
