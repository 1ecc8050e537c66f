// Package parser decodes conference schedule documents (the frab/pretalx
// "schedule.json" export format).
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Document is the top-level schedule export.
type Document struct {
	Schedule Schedule `json:"schedule"`
}

// Schedule holds the version and the conference program.
type Schedule struct {
	Version    string     `json:"version"`
	Conference Conference `json:"conference"`
}

// Conference holds the days of the program.
type Conference struct {
	Acronym string `json:"acronym"`
	Title   string `json:"title"`
	Days    []Day  `json:"days"`
}

// Day maps room names to that room's events. Room order follows the
// document so flattening is deterministic.
type Day struct {
	Index int                                      `json:"index"`
	Date  string                                   `json:"date"`
	Rooms *orderedmap.OrderedMap[string, []Event] `json:"rooms"`
}

// Event is a single scheduled talk.
type Event struct {
	GUID     string   `json:"guid"`
	Date     string   `json:"date"`
	Start    string   `json:"start"`
	Duration string   `json:"duration"`
	Room     string   `json:"room"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Language string   `json:"language"`
	Track    string   `json:"track"`
	Type     string   `json:"type"`
	Abstract string   `json:"abstract"`
	URL      string   `json:"url"`
	Persons  []Person `json:"persons"`
}

// Person is a speaker entry. Older exports only carry public_name, newer
// ones sometimes only name.
type Person struct {
	PublicName string `json:"public_name"`
	Name       string `json:"name"`
}

// DisplayName returns the public name, falling back to name.
func (p Person) DisplayName() string {
	if p.PublicName != "" {
		return p.PublicName
	}
	return p.Name
}

// Validate checks the fields every talk needs.
func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.GUID, validation.Required),
		validation.Field(&e.Title, validation.Required),
		validation.Field(&e.Date, validation.Date(time.RFC3339)),
	)
}

// ParsedDate returns the event start as a time, or the zero time when the
// document does not carry a usable date.
func (e Event) ParsedDate() time.Time {
	t, err := time.Parse(time.RFC3339, e.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Speakers returns the display names of all persons.
func (e Event) Speakers() []string {
	out := make([]string, 0, len(e.Persons))
	for _, p := range e.Persons {
		out = append(out, p.DisplayName())
	}
	return out
}

// DayEvent is an event tagged with the index of the day it belongs to.
type DayEvent struct {
	Day   int
	Event Event
}

// Events flattens days → rooms → events in document order.
func (d *Document) Events() []DayEvent {
	var out []DayEvent
	for _, day := range d.Schedule.Conference.Days {
		if day.Rooms == nil {
			continue
		}
		for pair := day.Rooms.Oldest(); pair != nil; pair = pair.Next() {
			for _, ev := range pair.Value {
				out = append(out, DayEvent{Day: day.Index, Event: ev})
			}
		}
	}
	return out
}

// ErrNoVersion is returned by Version when the acronym or version is missing.
var ErrNoVersion = errors.New("parser: schedule has no acronym or version")

// Version returns the "<acronym>: <version>" diagnostic fragment.
func (d *Document) Version() (string, error) {
	acronym := strings.TrimSpace(d.Schedule.Conference.Acronym)
	version := strings.TrimSpace(d.Schedule.Version)
	if acronym == "" || version == "" {
		return "", ErrNoVersion
	}
	return acronym + ": " + version, nil
}

// Parse decodes and validates a schedule document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parser: decode schedule: %w", err)
	}
	if doc.Schedule.Conference.Days == nil {
		return nil, errors.New("parser: schedule has no conference days")
	}
	for _, de := range doc.Events() {
		if err := de.Event.Validate(); err != nil {
			return nil, fmt.Errorf("parser: event %q: %w", de.Event.GUID, err)
		}
	}
	return &doc, nil
}
