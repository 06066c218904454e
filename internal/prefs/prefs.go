// Package prefs holds the process-wide display and polling preferences.
package prefs

import (
	"sync"
	"time"
)

const noticeTTL = 2 * time.Second

// Settings is a point-in-time copy of the preferences.
type Settings struct {
	Paused          bool    `json:"paused"`
	Reversed        bool    `json:"reversed"`
	ShowAll         bool    `json:"showAll"`
	MinTime         float64 `json:"minTime"`
	RefreshInterval float64 `json:"refreshInterval"`
	LogThreshold    float64 `json:"logThreshold"`
	Snapshot        bool    `json:"-"`
	IP              string  `json:"ip,omitempty"`
}

// Refresh is the refresh interval as a duration.
func (s Settings) Refresh() time.Duration {
	return time.Duration(s.RefreshInterval * float64(time.Second))
}

// AutoLog reports whether an operation running for secs, or scanning a
// collection, should be written to disk on its own.
func (s Settings) AutoLog(secs float64, collScan bool) bool {
	if s.LogThreshold <= 0 {
		return false
	}
	return collScan || secs >= s.LogThreshold
}

// Preferences is shared by the terminal loop and the HTTP handlers. Writers
// do not coordinate with each other; the last write wins.
type Preferences struct {
	mu       sync.RWMutex
	s        Settings
	notice   string
	noticeAt time.Time

	now func() time.Time
}

func New(initial Settings) *Preferences {
	return &Preferences{s: initial, now: time.Now}
}

// Get returns a copy of the current settings.
func (p *Preferences) Get() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s
}

// Update applies fn to the settings under the write lock and returns the result.
func (p *Preferences) Update(fn func(*Settings)) Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.s)
	return p.s
}

func (p *Preferences) TogglePaused() bool {
	return p.Update(func(s *Settings) { s.Paused = !s.Paused }).Paused
}

func (p *Preferences) ToggleReversed() bool {
	return p.Update(func(s *Settings) { s.Reversed = !s.Reversed }).Reversed
}

func (p *Preferences) ToggleShowAll() bool {
	return p.Update(func(s *Settings) { s.ShowAll = !s.ShowAll }).ShowAll
}

// RequestSnapshot marks the next poll to write a snapshot.
func (p *Preferences) RequestSnapshot() {
	p.Update(func(s *Settings) { s.Snapshot = true })
}

// TakeSnapshotRequest reports and clears a pending snapshot request.
func (p *Preferences) TakeSnapshotRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	requested := p.s.Snapshot
	p.s.Snapshot = false
	return requested
}

// SetNotice shows msg in the next renders until it expires.
func (p *Preferences) SetNotice(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notice = msg
	p.noticeAt = p.now()
}

// Notice returns the current message, or "" once it is older than two
// seconds. An expired message is cleared.
func (p *Preferences) Notice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notice == "" {
		return ""
	}
	if p.now().Sub(p.noticeAt) > noticeTTL {
		p.notice = ""
		return ""
	}
	return p.notice
}
