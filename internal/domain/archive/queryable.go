package archive

import "context"

// Queryable is a read-only view over a result set. Both table-backed queries
// and derived in-memory filters implement it, so callers never care which
// they hold.
type Queryable[T any] interface {
	ToArray(ctx context.Context) ([]T, error)
	Count(ctx context.Context) (int, error)
}

// QueryFunc adapts a plain read function into a Queryable.
func QueryFunc[T any](fn func(ctx context.Context) ([]T, error)) Queryable[T] {
	return queryFunc[T](fn)
}

type queryFunc[T any] func(ctx context.Context) ([]T, error)

func (q queryFunc[T]) ToArray(ctx context.Context) ([]T, error) {
	return q(ctx)
}

func (q queryFunc[T]) Count(ctx context.Context) (int, error) {
	items, err := q(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Filtered derives an in-memory filtered view of another Queryable.
func Filtered[T any](q Queryable[T], keep func(T) bool) Queryable[T] {
	return QueryFunc(func(ctx context.Context) ([]T, error) {
		items, err := q.ToArray(ctx)
		if err != nil {
			return nil, err
		}
		var out []T
		for _, item := range items {
			if keep(item) {
				out = append(out, item)
			}
		}
		return out, nil
	})
}
