package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
)

// pq: unique_violation
const pqUniqueViolation = "23505"

// isUniqueViolation tells whether err is a unique constraint violation on any of the supported engines.
func isUniqueViolation(err error) bool {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		return e.Code == pqUniqueViolation
	case sqlite3.Error:
		return e.ExtendedCode == sqlite3.ErrConstraintUnique || e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// trapNoRowsErr maps sql.ErrNoRows to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// checkAffected returns notFound when res did not touch any row.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// inTx runs fn in a transaction, rolled back when fn fails.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// where accumulates AND-ed conditions written with `?` placeholders.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// search adds a case-insensitive "contains" match on any of cols.
func (w *where) search(term string, cols ...string) {
	if term == "" {
		return
	}
	val := "%" + strings.ToLower(term) + "%"
	conds := make([]string, 0, len(cols))
	for _, col := range cols {
		conds = append(conds, "LOWER("+col+") LIKE ?")
		w.args = append(w.args, val)
	}
	w.clauses = append(w.clauses, "("+strings.Join(conds, " OR ")+")")
}

// in adds `col IN (...)`, or `col NOT IN (...)` when negate is set. Empty vals are ignored.
func (w *where) in(col string, vals []string, negate ...bool) {
	if len(vals) == 0 {
		return
	}
	op := " IN "
	if len(negate) > 0 && negate[0] {
		op = " NOT IN "
	}
	w.clauses = append(w.clauses, col+op+"("+placeholders(len(vals))+")")
	for _, v := range vals {
		w.args = append(w.args, v)
	}
}

func (w where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// orderBy renders orderings whose field is a key of columns, ignoring the others.
func orderBy(orderings []core.DBOrdering, columns map[string]string) string {
	list := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		list = append(list, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(list) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

// exists counts the rows of table matching w.
func exists(ctx context.Context, db *sqlx.DB, table string, w where) (bool, error) {
	var cnt int
	if err := db.GetContext(ctx, &cnt, db.Rebind("SELECT COUNT(*) FROM "+table+w.String()), w.args...); err != nil {
		return false, err
	}
	return cnt > 0, nil
}
