// Package schema describes storage tables declaratively so that model types
// can publish their expected layout and tooling can compare it against the
// live database.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Serialization formats for columns holding structured values.
const (
	SerializationJSON = "json"
)

// Column is a named column with a logical type such as "phid", "text12",
// "uint32", "sort", "bytes20" or "double". A trailing "?" marks it nullable.
type Column struct {
	Name string
	Type string
}

// Nullable reports whether the column allows NULL.
func (c Column) Nullable() bool { return strings.HasSuffix(c.Type, "?") }

// BaseType returns the logical type without the nullability marker.
func (c Column) BaseType() string { return strings.TrimSuffix(c.Type, "?") }

// Key is an index over one or more columns. A column may carry a prefix
// length, e.g. "title(64)".
type Key struct {
	Name    string
	Columns []string
	Unique  bool
}

// Config is what a model returns from Configuration().
type Config struct {
	// AuxPHID adds a unique "phid" column.
	AuxPHID bool
	// Timestamps adds date_created / date_modified epoch columns.
	Timestamps    bool
	Serialization map[string]string
	Columns       []Column
	Keys          []Key
}

// Table is a fully expanded table definition.
type Table struct {
	Name          string
	Columns       []Column
	Keys          []Key
	Serialization map[string]string
}

// Table expands the config into a table with its implicit columns.
func (c Config) Table(name string) Table {
	t := Table{Name: name, Serialization: c.Serialization}
	t.Columns = append(t.Columns, Column{Name: "id", Type: "id"})
	if c.AuxPHID {
		t.Columns = append(t.Columns, Column{Name: "phid", Type: "phid"})
	}
	t.Columns = append(t.Columns, c.Columns...)
	if c.Timestamps {
		t.Columns = append(t.Columns,
			Column{Name: "date_created", Type: "epoch"},
			Column{Name: "date_modified", Type: "epoch"},
		)
	}
	t.Keys = append(t.Keys, c.Keys...)
	return t
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

var sizedType = regexp.MustCompile(`^(text|sort|bytes|uint|int)(\d*)$`)

// SQLiteType maps a logical column type to its SQLite storage class.
func SQLiteType(logical string) (string, error) {
	base := strings.TrimSuffix(logical, "?")
	switch base {
	case "id", "epoch", "bool":
		return "INTEGER", nil
	case "phid", "json":
		return "TEXT", nil
	case "double":
		return "REAL", nil
	}
	m := sizedType.FindStringSubmatch(base)
	if m == nil {
		return "", fmt.Errorf("unknown column type %q", logical)
	}
	switch m[1] {
	case "uint", "int":
		return "INTEGER", nil
	default:
		return "TEXT", nil
	}
}

// KeyColumn strips a prefix length from a key column ("title(64)" -> "title").
func KeyColumn(col string) string {
	if i := strings.IndexByte(col, '('); i >= 0 {
		return col[:i]
	}
	return col
}

// IndexName returns the SQLite index name used for a key.
func (t Table) IndexName(k Key) string {
	return t.Name + "_" + k.Name
}

// CreateSQL renders CREATE TABLE and CREATE INDEX statements for SQLite.
func (t Table) CreateSQL() (string, error) {
	var cols []string
	for _, c := range t.Columns {
		if c.BaseType() == "id" {
			cols = append(cols, c.Name+" INTEGER PRIMARY KEY AUTOINCREMENT")
			continue
		}
		typ, err := SQLiteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := c.Name + " " + typ
		if !c.Nullable() {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);\n", t.Name, strings.Join(cols, ",\n\t"))
	for _, k := range t.Keys {
		var kc []string
		for _, c := range k.Columns {
			kc = append(kc, KeyColumn(c))
		}
		unique := ""
		if k.Unique {
			unique = "UNIQUE "
		}
		fmt.Fprintf(&b, "CREATE %sINDEX IF NOT EXISTS %s ON %s (%s);\n", unique, t.IndexName(k), t.Name, strings.Join(kc, ", "))
	}
	return b.String(), nil
}
