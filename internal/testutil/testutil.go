// Package testutil provides shared test helpers for schedule fixtures and
// talk directory roots.
package testutil

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/talkdrop/internal/parser"
)

// Talk describes one fixture event.
type Talk struct {
	GUID     string
	Title    string
	Language string
	Day      int
	Room     string
	Speakers []string
}

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ScheduleJSON builds a schedule document. Days and rooms appear in the
// order they are first used by talks.
func ScheduleJSON(t *testing.T, acronym, version string, talks ...Talk) []byte {
	t.Helper()

	var days []parser.Day
	dayPos := map[int]int{}
	for i, tk := range talks {
		pos, ok := dayPos[tk.Day]
		if !ok {
			pos = len(days)
			dayPos[tk.Day] = pos
			days = append(days, parser.Day{
				Index: tk.Day,
				Rooms: orderedmap.New[string, []parser.Event](),
			})
		}
		room := tk.Room
		if room == "" {
			room = "Saal 1"
		}
		lang := tk.Language
		if lang == "" {
			lang = "en"
		}
		persons := make([]parser.Person, 0, len(tk.Speakers))
		for _, s := range tk.Speakers {
			persons = append(persons, parser.Person{PublicName: s})
		}
		ev := parser.Event{
			GUID:     tk.GUID,
			Date:     time.Date(2023, 12, 27+tk.Day, 11+i%8, 0, 0, 0, time.UTC).Format(time.RFC3339),
			Start:    "11:00",
			Duration: "00:40",
			Room:     room,
			Title:    tk.Title,
			Language: lang,
			Track:    "Test",
			Type:     "Talk",
			Persons:  persons,
		}
		existing, _ := days[pos].Rooms.Get(room)
		days[pos].Rooms.Set(room, append(existing, ev))
	}
	if days == nil {
		days = []parser.Day{}
	}

	doc := parser.Document{Schedule: parser.Schedule{
		Version:    version,
		Conference: parser.Conference{Acronym: acronym, Days: days},
	}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal schedule: %v", err)
	}
	return data
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error(msg)
}
