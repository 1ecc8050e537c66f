// Package models defines the JSON views shared by the HTTP and MCP surfaces.
package models

import "time"

// TalkSummary is one entry of the talk list.
type TalkSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle,omitempty"`
	Slug         string    `json:"slug"`
	Speakers     []string  `json:"speakers"`
	Room         string    `json:"room"`
	Date         time.Time `json:"date"`
	Day          int       `json:"day"`
	FileCount    int       `json:"fileCount"`
	CommentCount int       `json:"commentCount"`
	URL          string    `json:"url"`
}

// TalkList is the talk index view.
type TalkList struct {
	Talks        []TalkSummary `json:"talks"`
	IsAuthorized bool          `json:"isAuthorized"`
}

// FileMeta carries the recorded stats of a file.
type FileMeta struct {
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Hash     string    `json:"hash,omitempty"`
}

// FileView describes one upload. Name and URL are only set for authorized
// callers; everyone else sees the redacted name.
type FileView struct {
	Name         string   `json:"name,omitempty"`
	RedactedName string   `json:"redactedName"`
	URL          string   `json:"url,omitempty"`
	Meta         FileMeta `json:"meta"`
}

// CommentView is the body of one comment.
type CommentView struct {
	Name    string    `json:"name"`
	Body    string    `json:"body"`
	Created time.Time `json:"created"`
}

// TalkDetail is the single talk view.
type TalkDetail struct {
	TalkSummary
	IsAuthorized bool          `json:"isAuthorized"`
	Duration     string        `json:"duration"`
	Track        string        `json:"track"`
	Type         string        `json:"type"`
	Language     string        `json:"language"`
	Abstract     string        `json:"abstract,omitempty"`
	ScheduleURL  string        `json:"scheduleUrl,omitempty"`
	Files        []FileView    `json:"files"`
	Comments     []CommentView `json:"comments,omitempty"`
}

// ScheduleVersion reports the installed schedule version.
type ScheduleVersion struct {
	Version   string `json:"version"`
	Available bool   `json:"available"`
}
