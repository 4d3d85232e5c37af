package events

import (
	"context"
	"errors"
)

// Tee appends to Primary, which assigns the id, then copies the numbered
// event to every mirror. A mirror failure is reported but does not undo the
// primary write.
type Tee struct {
	Primary Sink
	Mirrors []Sink
}

func (t Tee) Append(ctx context.Context, e Event) (int64, error) {
	id, err := t.Primary.Append(ctx, e)
	if err != nil {
		return 0, err
	}
	e.ID = id
	var errs []error
	for _, m := range t.Mirrors {
		if _, err := m.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return id, errors.Join(errs...)
}
