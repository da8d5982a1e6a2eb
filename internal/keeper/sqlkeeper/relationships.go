package sqlkeeper

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// toOneKeeper serves a to-one relationship stored in a "<name>_id" column
type toOneKeeper struct {
	keeper *Keeper
	column column
}

// Get reads the relationship column of every requested row
func (r *toOneKeeper) Get(ctx context.Context, ids []string, _ any) (map[string]resource.Linkage, error) {
	out := make(map[string]resource.Linkage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	k := r.keeper
	stmt := newStatement(k.dialect).
		write("SELECT %s, %s FROM %s WHERE ", quote("id"), quote(r.column.name), quote(k.table)).
		in("id", ids)
	rows, err := k.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     string
			target sql.NullString
		)
		if err := rows.Scan(&id, &target); err != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", k.table, r.column.name, err)
		}
		if !target.Valid {
			out[id] = resource.Null()
			continue
		}
		out[id] = resource.One(r.column.target, target.String)
	}
	return out, rows.Err()
}

// Update sets the relationship column
func (r *toOneKeeper) Update(ctx context.Context, id string, value resource.Linkage) error {
	k := r.keeper
	stmt := newStatement(k.dialect).
		write("UPDATE %s SET %s = ", quote(k.table), quote(r.column.name)).
		arg(targetID(value)).
		write(" WHERE %s = ", quote("id")).
		arg(id)
	return k.execOne(ctx, stmt, id)
}
