package publisher

import (
	"errors"
	"fmt"
)

// Fanout publishes every value to all of its sinks. One failing sink
// does not stop the others.
type Fanout []Sink

func (f Fanout) Publish(channel string, v any) error {
	var errs []error
	for i, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(channel, v); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
