package eventsink

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/resourcekit/pkg/events"
)

// Filter selects messages by event name and resource type.
// Empty lists match everything.
type Filter struct {
	Events []events.Name
	Types  []string
}

// Match reports whether m passes the filter
func (f Filter) Match(m Message) bool {
	if len(f.Events) > 0 && !containsName(f.Events, m.Event) {
		return false
	}
	if len(f.Types) > 0 {
		for _, t := range f.Types {
			if t == m.Type {
				return true
			}
		}
		return false
	}
	return true
}

// ParseFilter builds a filter from comma separated event names and types
func ParseFilter(eventList, typeList string) (Filter, error) {
	var f Filter
	for _, name := range split(eventList) {
		if !containsName(events.Names, events.Name(name)) {
			return Filter{}, fmt.Errorf("unknown event %q", name)
		}
		f.Events = append(f.Events, events.Name(name))
	}
	f.Types = split(typeList)
	return f, nil
}

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsName(names []events.Name, name events.Name) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
