package archive

import (
	"context"
)

// LiveQuery is a handle to a subscribed query. Consumers own the lifecycle:
// nothing unsubscribes automatically.
type LiveQuery struct {
	sub Subscription
}

// Unsubscribe stops delivery.
func (q *LiveQuery) Unsubscribe() {
	q.sub.Unsubscribe()
}

// NewLiveQuery wraps a plain read function so that onChange fires after every
// mutation of the given tables. One initial synthetic notification is
// delivered at subscription time; consumers must be idempotent to it.
func NewLiveQuery[T any](store Store, tables []string, query func(ctx context.Context) (T, error), onChange func(T, error)) *LiveQuery {
	sub := store.Subscribe(tables, func() {
		onChange(query(context.Background()))
	})
	return &LiveQuery{sub: sub}
}
