package models

import (
	"fmt"
	"time"
)

// Counter is a named numeric metric emitted by a task
type Counter struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// NewCounter builds a counter from alternating tag key/value strings
func NewCounter(name string, value float64, tags ...string) Counter {
	c := Counter{Name: name, Value: value}
	if len(tags) > 0 {
		c.Tags = make(map[string]string, len(tags)/2)
		for i := 0; i+1 < len(tags); i += 2 {
			c.Tags[tags[i]] = tags[i+1]
		}
	}
	return c
}

func (c Counter) String() string {
	return fmt.Sprintf("counter(%s=%g)", c.Name, c.Value)
}

// MetricPoint is a recorded counter as stored for a run
type MetricPoint struct {
	RunID      int64
	Counter    Counter
	RecordedAt time.Time
}
