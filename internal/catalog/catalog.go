// Package catalog holds the events and sessions a check-in can be filed under.
//
// Catalogs are read from TOML, YAML or JSON files. The built-in church
// service event is always present and is the fallback for unknown ids.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultEventID is the id of the built-in event.
const DefaultEventID = "church-service"

// Session is one scheduled session of an event.
type Session struct {
	ID     string `json:"id" yaml:"id" toml:"id"`
	Label  string `json:"label" yaml:"label" toml:"label"`
	Period string `json:"period,omitempty" yaml:"period" toml:"period"`
	Date   string `json:"date,omitempty" yaml:"date" toml:"date"`
}

// Event groups sessions with the pick lists shown at check-in.
type Event struct {
	ID              string    `json:"id" yaml:"id" toml:"id"`
	Name            string    `json:"name" yaml:"name" toml:"name"`
	Sessions        []Session `json:"sessions" yaml:"sessions" toml:"sessions"`
	States          []string  `json:"states,omitempty" yaml:"states" toml:"states"`
	ChurchLocations []string  `json:"church_locations,omitempty" yaml:"church_locations" toml:"church_locations"`
	CampGroups      []string  `json:"camp_groups,omitempty" yaml:"camp_groups" toml:"camp_groups"`
}

// Catalog is an immutable set of events.
type Catalog struct {
	Events         []Event `json:"events" yaml:"events" toml:"events"`
	DefaultEventID string  `json:"default_event_id,omitempty" yaml:"default_event_id" toml:"default_event_id"`
}

// DefaultEvent returns the built-in event.
func DefaultEvent() Event {
	return Event{ID: DefaultEventID, Name: "Church Service", Sessions: []Session{}}
}

// Default returns a catalog holding only the built-in event.
func Default() *Catalog {
	return &Catalog{}
}

// Load reads a catalog from path, choosing the decoder by extension.
// An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c, err := Parse(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog in the given format: toml, yaml, yml or json.
func Parse(data []byte, format string) (*Catalog, error) {
	var c Catalog
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), &c); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects events without ids, repeated ids and sessions without ids.
func (c *Catalog) Validate() error {
	seen := map[string]bool{DefaultEventID: true}
	for i, e := range c.Events {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("event %d: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("event %q: duplicate id", e.ID)
		}
		seen[e.ID] = true

		sessions := map[string]bool{}
		for j, s := range e.Sessions {
			if strings.TrimSpace(s.ID) == "" {
				return fmt.Errorf("event %q session %d: id is required", e.ID, j)
			}
			if sessions[s.ID] {
				return fmt.Errorf("event %q session %q: duplicate id", e.ID, s.ID)
			}
			sessions[s.ID] = true
		}
	}
	return nil
}

// All returns the built-in event followed by the configured ones.
func (c *Catalog) All() []Event {
	out := make([]Event, 0, len(c.Events)+1)
	out = append(out, DefaultEvent())
	return append(out, c.Events...)
}

// Event returns the event with id. Unknown or empty ids fall back to the
// configured default event, then to the built-in one.
func (c *Catalog) Event(id string) Event {
	for _, candidate := range []string{id, c.DefaultEventID} {
		if candidate == "" {
			continue
		}
		for _, e := range c.All() {
			if e.ID == candidate {
				return e
			}
		}
	}
	return DefaultEvent()
}

// Session looks up a session of an event.
func (c *Catalog) Session(eventID, sessionID string) (Session, bool) {
	if sessionID == "" {
		return Session{}, false
	}
	for _, s := range c.Event(eventID).Sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	return Session{}, false
}

// Dates returns the distinct session dates of an event in ascending order.
func (c *Catalog) Dates(eventID string) []string {
	set := map[string]struct{}{}
	for _, s := range c.Event(eventID).Sessions {
		if s.Date != "" {
			set[s.Date] = struct{}{}
		}
	}
	dates := make([]string, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// SessionsOn returns the sessions of an event scheduled on date.
func (c *Catalog) SessionsOn(eventID, date string) []Session {
	var out []Session
	for _, s := range c.Event(eventID).Sessions {
		if s.Date == date {
			out = append(out, s)
		}
	}
	return out
}
