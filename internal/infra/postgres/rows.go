package postgres

import "fmt"

// scanner is satisfied by both pgx.Row and the errRow fallback returned by
// PoolQuerier when no pool is connected, so repositories built against domain.Querier can
// type-assert the any-boxed QueryRow result without caring which concrete
// driver type is underneath.
type scanner interface {
	Scan(dest ...any) error
}

// rowsIterator is satisfied by pgx.Rows; repositories type-assert Query's
// any-boxed result against it.
type rowsIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// commandTag is satisfied by pgconn.CommandTag; repositories type-assert
// Exec's any-boxed result against it to read affected row counts.
type commandTag interface {
	RowsAffected() int64
}

func asScanner(v any) (scanner, error) {
	s, ok := v.(scanner)
	if !ok {
		return nil, fmt.Errorf("postgres: QueryRow result does not implement Scan")
	}
	return s, nil
}

func asRows(v any, err error) (rowsIterator, error) {
	if err != nil {
		return nil, err
	}
	rows, ok := v.(rowsIterator)
	if !ok {
		return nil, fmt.Errorf("postgres: Query result does not implement row iteration")
	}
	return rows, nil
}

func asCommandTag(v any, err error) (commandTag, error) {
	if err != nil {
		return nil, err
	}
	tag, ok := v.(commandTag)
	if !ok {
		return nil, fmt.Errorf("postgres: Exec result does not implement RowsAffected")
	}
	return tag, nil
}
