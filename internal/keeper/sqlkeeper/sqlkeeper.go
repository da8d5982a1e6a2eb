// Package sqlkeeper provides a database/sql resource keeper. Every resource
// type maps to one table: an "id" text primary key, one column per attribute
// and one "<name>_id" column per to-one relationship. To-many relationships
// need a join table and are not supported.
package sqlkeeper

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

// Options configures a Keeper
type Options struct {
	// Table defaults to the resource type name
	Table   string
	Dialect Dialect
	// NewID generates ids for added resources; defaults to random UUIDs
	NewID  func() string
	Logger *zap.Logger
}

// column maps one declared field onto a table column
type column struct {
	field  string
	name   string
	target string
	json   bool
}

// Keeper stores one resource type in one table
type Keeper struct {
	db      *sql.DB
	decl    *schema.Declaration
	table   string
	dialect Dialect
	newID   func() string
	logger  *zap.Logger

	attributes    []column
	toOne         []column
	relationships map[string]resource.RelationshipKeeper
}

// Open opens a database for the configured driver name (sqlite or postgres)
// and returns the dialect to use with it.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	var (
		driverName string
		dialect    Dialect
	)
	switch driver {
	case "sqlite", "sqlite3":
		driverName, dialect = "sqlite3", SQLite
	case "postgres", "pgx":
		driverName, dialect = "pgx", Postgres
	default:
		return nil, 0, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, dialect, nil
}

// New creates a keeper for decl backed by db
func New(db *sql.DB, decl *schema.Declaration, opts Options) (*Keeper, error) {
	k := &Keeper{
		db:      db,
		decl:    decl,
		table:   opts.Table,
		dialect: opts.Dialect,
		newID:   opts.NewID,
		logger:  opts.Logger,
	}
	if k.table == "" {
		k.table = decl.Type
	}
	if k.newID == nil {
		k.newID = uuid.NewString
	}
	if k.logger == nil {
		k.logger = zap.NewNop()
	}

	for _, attr := range decl.Attributes {
		k.attributes = append(k.attributes, column{
			field: attr.Name,
			name:  attr.Name,
			json:  !isScalar(attr.Schema),
		})
	}

	k.relationships = make(map[string]resource.RelationshipKeeper, len(decl.Relationships))
	for _, rel := range decl.Relationships {
		info := rel.Info()
		if schema.IsMultiple(rel) {
			return nil, fmt.Errorf("%s.%s: %w: to-many relationships need a join table", decl.Type, info.Name, ErrUnsupportedRelationship)
		}
		if len(info.Types) != 1 || info.Types[0] == schema.AnyType {
			return nil, fmt.Errorf("%s.%s: %w: to-one relationships need exactly one target type", decl.Type, info.Name, ErrUnsupportedRelationship)
		}
		col := column{field: info.Name, name: info.Name + "_id", target: info.Types[0]}
		k.toOne = append(k.toOne, col)
		k.relationships[info.Name] = &toOneKeeper{keeper: k, column: col}
	}

	return k, nil
}

// isScalar reports whether values of the schema fit in a plain column
func isScalar(s schema.Schema) bool {
	switch strings.TrimSuffix(strings.TrimPrefix(s.String(), "nullable<"), ">") {
	case "string", "int", "number", "bool":
		return true
	}
	return strings.HasPrefix(s.String(), "enum(")
}

// Declaration returns the declaration of the stored type
func (k *Keeper) Declaration() *schema.Declaration {
	return k.decl
}

// Relationships returns one keeper per to-one relationship
func (k *Keeper) Relationships() map[string]resource.RelationshipKeeper {
	return k.relationships
}

// CreateTable creates the table if it does not exist
func (k *Keeper) CreateTable(ctx context.Context) error {
	defs := []string{quote("id") + " TEXT PRIMARY KEY"}
	for _, attr := range k.decl.Attributes {
		defs = append(defs, fmt.Sprintf("%s %s", quote(attr.Name), columnType(attr.Schema)))
	}
	for _, col := range k.toOne {
		defs = append(defs, quote(col.name)+" TEXT")
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(k.table), strings.Join(defs, ", "))
	if _, err := k.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", k.table, ConvertDBError(err))
	}
	return nil
}

func columnType(s schema.Schema) string {
	switch strings.TrimSuffix(strings.TrimPrefix(s.String(), "nullable<"), ">") {
	case "int":
		return "INTEGER"
	case "number":
		return "REAL"
	case "bool":
		return "BOOLEAN"
	}
	return "TEXT"
}

// Status reports ids that have a row as existing and every other id as not found
func (k *Keeper) Status(ctx context.Context, ids []string) (map[string]resource.Status, error) {
	out := make(map[string]resource.Status, len(ids))
	for _, id := range ids {
		out[id] = resource.NotFound()
	}
	if len(ids) == 0 {
		return out, nil
	}

	stmt := newStatement(k.dialect).write("SELECT %s FROM %s WHERE ", quote("id"), quote(k.table)).in("id", ids)
	rows, err := k.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", k.table, err)
		}
		out[id] = resource.Exist()
	}
	return out, rows.Err()
}

// Get loads the attributes of the rows among ids
func (k *Keeper) Get(ctx context.Context, ids []string, opts resource.GetOptions) ([]*resource.Resource, error) {
	if len(ids) == 0 {
		return []*resource.Resource{}, nil
	}
	cols := k.selected(opts.Fields)

	stmt := newStatement(k.dialect).
		write("SELECT %s FROM %s WHERE ", quoteAll(append([]string{"id"}, names(cols)...)), quote(k.table)).
		in("id", ids)
	return k.scanResources(ctx, stmt, cols)
}

// List filters, sorts and pages the table
func (k *Keeper) List(ctx context.Context, opts resource.ListOptions) (resource.DataList[*resource.Resource], error) {
	var list resource.DataList[*resource.Resource]

	where := newStatement(k.dialect)
	if err := k.where(where, opts.Filter); err != nil {
		return list, err
	}

	count := newStatement(k.dialect).write("SELECT COUNT(*) FROM %s", quote(k.table))
	count.write("%s", where.String())
	count.args = where.args

	var total int
	if err := k.db.QueryRowContext(ctx, count.String(), count.args...).Scan(&total); err != nil {
		return list, fmt.Errorf("failed to count %s: %w", k.table, ConvertDBError(err))
	}
	list.Total = &total

	stmt := newStatement(k.dialect).write("SELECT %s FROM %s", quoteAll(append([]string{"id"}, names(k.attributes)...)), quote(k.table))
	stmt.write("%s", where.String())
	stmt.args = append(stmt.args, where.args...)

	if len(opts.Sort) > 0 {
		order := make([]string, len(opts.Sort))
		for i, s := range opts.Sort {
			col, ok := k.attribute(s.Field)
			if !ok {
				return list, fmt.Errorf("%s: cannot sort by %q", k.decl.Type, s.Field)
			}
			direction := "DESC"
			if s.Asc {
				direction = "ASC"
			}
			order[i] = quote(col.name) + " " + direction
		}
		stmt.write(" ORDER BY %s", strings.Join(order, ", "))
	}

	if page, ok := opts.Page.(query.Page); ok {
		offset, limit := page.Offset(), page.Size
		list.Offset, list.Limit = &offset, &limit
		stmt.write(" LIMIT ").arg(limit).write(" OFFSET ").arg(offset)
	}

	items, err := k.scanResources(ctx, stmt, k.attributes)
	if err != nil {
		return list, err
	}
	list.Items = items
	return list, nil
}

// where writes a WHERE clause matching every filter by equality. Multiple
// values match any of them.
func (k *Keeper) where(stmt *statement, filter map[string]any) error {
	for i, name := range resource.SortedKeys(filter) {
		col, ok := k.attribute(name)
		if !ok {
			col, ok = k.relationshipColumn(name)
		}
		if !ok {
			return fmt.Errorf("%s: cannot filter by %q", k.decl.Type, name)
		}

		if i == 0 {
			stmt.write(" WHERE ")
		} else {
			stmt.write(" AND ")
		}

		switch v := filter[name].(type) {
		case []string:
			if len(v) == 0 {
				stmt.write("1 = 0")
				continue
			}
			stmt.in(col.name, v)
		case []any:
			if len(v) == 0 {
				stmt.write("1 = 0")
				continue
			}
			stmt.inValues(col.name, v)
		case nil:
			stmt.write("%s IS NULL", quote(col.name))
		default:
			stmt.write("%s = ", quote(col.name)).arg(v)
		}
	}
	return nil
}

// Add inserts a row. A client id is used as is.
func (k *Keeper) Add(ctx context.Context, r *resource.NewResource) (string, error) {
	id := r.ID
	if id == "" {
		id = k.newID()
	}

	cols := []string{"id"}
	values := []any{id}
	for _, col := range k.attributes {
		if value, ok := r.Attributes[col.field]; ok {
			encoded, err := encode(col, value)
			if err != nil {
				return "", err
			}
			cols = append(cols, col.name)
			values = append(values, encoded)
		}
	}
	for _, col := range k.toOne {
		if value, ok := r.Relationships[col.field]; ok {
			cols = append(cols, col.name)
			values = append(values, targetID(value))
		}
	}

	stmt := newStatement(k.dialect).write("INSERT INTO %s (%s) VALUES (", quote(k.table), quoteAll(cols))
	for i, v := range values {
		if i > 0 {
			stmt.write(", ")
		}
		stmt.arg(v)
	}
	stmt.write(")")

	if _, err := k.exec(ctx, stmt); err != nil {
		return "", fmt.Errorf("failed to insert %s: %w", k.table, err)
	}
	return id, nil
}

// Update sets the given fields on one row
func (k *Keeper) Update(ctx context.Context, r *resource.EditableResource) error {
	stmt := newStatement(k.dialect).write("UPDATE %s SET ", quote(k.table))
	n := 0
	set := func(col column, value any) {
		if n > 0 {
			stmt.write(", ")
		}
		stmt.write("%s = ", quote(col.name)).arg(value)
		n++
	}

	for _, col := range k.attributes {
		if value, ok := r.Attributes[col.field]; ok {
			encoded, err := encode(col, value)
			if err != nil {
				return err
			}
			set(col, encoded)
		}
	}
	for _, col := range k.toOne {
		if value, ok := r.Relationships[col.field]; ok {
			set(col, targetID(value))
		}
	}
	if n == 0 {
		return nil
	}

	stmt.write(" WHERE %s = ", quote("id")).arg(r.ID)
	return k.execOne(ctx, stmt, r.ID)
}

// Remove deletes the row whose id equals id
func (k *Keeper) Remove(ctx context.Context, id string) error {
	stmt := newStatement(k.dialect).write("DELETE FROM %s WHERE %s = ", quote(k.table), quote("id")).arg(id)
	return k.execOne(ctx, stmt, id)
}

func (k *Keeper) query(ctx context.Context, stmt *statement) (*sql.Rows, error) {
	k.logger.Debug("query", zap.String("table", k.table), zap.String("sql", stmt.String()))
	rows, err := k.db.QueryContext(ctx, stmt.String(), stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", k.table, ConvertDBError(err))
	}
	return rows, nil
}

func (k *Keeper) exec(ctx context.Context, stmt *statement) (sql.Result, error) {
	k.logger.Debug("exec", zap.String("table", k.table), zap.String("sql", stmt.String()))
	result, err := k.db.ExecContext(ctx, stmt.String(), stmt.args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return result, nil
}

// execOne runs a statement that must affect the row with the given id
func (k *Keeper) execOne(ctx context.Context, stmt *statement, id string) error {
	result, err := k.exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", k.decl.Type, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s/%s: %w", k.decl.Type, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", k.decl.Type, id, ErrNotFound)
	}
	return nil
}

// scanResources reads rows of "id" followed by cols
func (k *Keeper) scanResources(ctx context.Context, stmt *statement, cols []column) ([]*resource.Resource, error) {
	rows, err := k.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*resource.Resource{}
	for rows.Next() {
		var id string
		values := make([]any, len(cols))
		dest := make([]any, len(cols)+1)
		dest[0] = &id
		for i := range values {
			dest[i+1] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", k.table, err)
		}

		attrs := make(map[string]any, len(cols))
		for i, col := range cols {
			value, err := decode(col, values[i])
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", k.decl.Type, id, err)
			}
			attrs[col.field] = value
		}
		out = append(out, &resource.Resource{Type: k.decl.Type, ID: id, Attributes: attrs})
	}
	return out, rows.Err()
}

// selected returns the attribute columns to load; nil fields loads all
func (k *Keeper) selected(fields []string) []column {
	if fields == nil {
		return k.attributes
	}
	cols := []column{}
	for _, f := range fields {
		if col, ok := k.attribute(f); ok {
			cols = append(cols, col)
		}
	}
	return cols
}

func (k *Keeper) attribute(field string) (column, bool) {
	for _, col := range k.attributes {
		if col.field == field {
			return col, true
		}
	}
	return column{}, false
}

func (k *Keeper) relationshipColumn(field string) (column, bool) {
	for _, col := range k.toOne {
		if col.field == field {
			return col, true
		}
	}
	return column{}, false
}

func names(cols []column) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = col.name
	}
	return out
}

// encode converts an attribute value to a column value
func encode(col column, value any) (any, error) {
	if !col.json || value == nil {
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", col.field, err)
	}
	return string(data), nil
}

// decode converts a column value back to an attribute value
func decode(col column, value any) (any, error) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	s, ok := value.(string)
	if !col.json || !ok {
		return value, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", col.field, err)
	}
	return out, nil
}

// targetID returns the id held by a to-one linkage, or nil for null
func targetID(value resource.Linkage) any {
	ids := value.Identifiers()
	if len(ids) == 0 {
		return nil
	}
	return ids[0].ID
}
