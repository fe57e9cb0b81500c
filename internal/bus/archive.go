package bus

import (
	"context"
	"errors"
)

// Archivers fans each message out to every archiver in order. One failing
// archiver does not stop the rest.
type Archivers []Archiver

func (as Archivers) Archive(ctx context.Context, msg *Message) error {
	var errs []error
	for _, a := range as {
		if err := a.Archive(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
