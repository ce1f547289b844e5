package ads

import (
	"net/http"
	"time"
)

// Slot names one of the two comparison periods of a retailer entry.
type Slot string

// Comparison periods carried by every retailer entry.
const (
	SlotPrevWeek Slot = "prevWeek"
	SlotLastYear Slot = "lastYear"
)

// Slots lists the comparison periods in payload order.
var Slots = []Slot{SlotPrevWeek, SlotLastYear}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	return s == SlotPrevWeek || s == SlotLastYear
}

// CacheState describes what a request found in the weekly cache.
type CacheState string

// Cache states observed by the request handler.
const (
	StateCold           CacheState = "cold"
	StateWarmIncomplete CacheState = "warm_incomplete"
	StateWarmComplete   CacheState = "warm_complete"
)

// RetailerTarget is the static configuration of one tracked retailer.
type RetailerTarget struct {
	ID        string `json:"id"         mapstructure:"id"`
	Name      string `json:"name"       mapstructure:"name"`
	ShortName string `json:"shortName"  mapstructure:"short_name"`
	Color     string `json:"color"      mapstructure:"color"`
	URL       string `json:"url"        mapstructure:"url"`
	DirectURL string `json:"directUrl"  mapstructure:"direct_url"`
}

// Snapshot is the resolved archive capture for one (retailer, slot) pair.
// ArchiveURL nil implies Timestamp, Date and ScreenshotURL are nil as well.
type Snapshot struct {
	ArchiveURL    *string `json:"archiveUrl"`
	Timestamp     *string `json:"timestamp"`
	Date          *string `json:"date"`
	Label         string  `json:"label"`
	Error         *string `json:"error"`
	ScreenshotURL *string `json:"screenshotUrl"`
}

// HasArchive reports whether a capture was resolved.
func (s Snapshot) HasArchive() bool {
	return s.ArchiveURL != nil && *s.ArchiveURL != ""
}

// HasScreenshot reports whether the screenshot was filled.
func (s Snapshot) HasScreenshot() bool {
	return s.ScreenshotURL != nil && *s.ScreenshotURL != ""
}

// NeedsScreenshot reports whether the fill worker should render this slot.
func (s Snapshot) NeedsScreenshot() bool {
	return s.HasArchive() && !s.HasScreenshot()
}

// FailedSnapshot returns a snapshot carrying only the label and an error message.
func FailedSnapshot(label, msg string) Snapshot {
	return Snapshot{Label: label, Error: StringPtr(msg)}
}

// RetailerAdData holds one retailer's metadata and its two comparison snapshots.
type RetailerAdData struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ShortName string   `json:"shortName"`
	Color     string   `json:"color"`
	DirectURL string   `json:"directUrl"`
	PrevWeek  Snapshot `json:"prevWeek"`
	LastYear  Snapshot `json:"lastYear"`
}

// NewRetailerAdData seeds an entry from static retailer configuration.
func NewRetailerAdData(target RetailerTarget) RetailerAdData {
	return RetailerAdData{
		ID:        target.ID,
		Name:      target.Name,
		ShortName: target.ShortName,
		Color:     target.Color,
		DirectURL: target.DirectURL,
	}
}

// Snapshot returns a pointer to the snapshot stored in slot, or nil for an unknown slot.
func (r *RetailerAdData) Snapshot(slot Slot) *Snapshot {
	switch slot {
	case SlotPrevWeek:
		return &r.PrevWeek
	case SlotLastYear:
		return &r.LastYear
	default:
		return nil
	}
}

// Response is the full payload served for one week.
type Response struct {
	WeekEnd       string           `json:"weekEnd"`
	GeneratedAt   time.Time        `json:"generatedAt"`
	PrevWeekLabel string           `json:"prevWeekLabel"`
	LastYearLabel string           `json:"lastYearLabel"`
	Retailers     []RetailerAdData `json:"retailers"`
}

// Clone returns a deep copy so callers never share snapshot pointers.
func (r Response) Clone() Response {
	out := r
	if r.Retailers == nil {
		return out
	}
	out.Retailers = make([]RetailerAdData, len(r.Retailers))
	for i, entry := range r.Retailers {
		entry.PrevWeek = entry.PrevWeek.Clone()
		entry.LastYear = entry.LastYear.Clone()
		out.Retailers[i] = entry
	}
	return out
}

// Clone returns a copy of s that shares no pointers with it.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		ArchiveURL:    clonePtr(s.ArchiveURL),
		Timestamp:     clonePtr(s.Timestamp),
		Date:          clonePtr(s.Date),
		Label:         s.Label,
		Error:         clonePtr(s.Error),
		ScreenshotURL: clonePtr(s.ScreenshotURL),
	}
}

// WeeklyRecord is the durable cache entry for one week-ending key.
type WeeklyRecord struct {
	WeekEnd   string    `json:"weekEnd"`
	Data      Response  `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScreenshotUpdate sets the screenshot URL of one (retailer index, slot) pair.
type ScreenshotUpdate struct {
	RetailerIdx int    `json:"retailerIdx"`
	Slot        Slot   `json:"slot"`
	URL         string `json:"screenshotUrl"`
}

// WorkItem is one slot discovered by the fill worker as needing a screenshot.
type WorkItem struct {
	RetailerIdx int
	RetailerID  string
	Slot        Slot
	ArchiveURL  string
}

// FillTask is queued by the request handler for the detached fill worker.
type FillTask struct {
	WeekKey  string
	Data     Response
	Enqueued time.Time
	// Done is invoked by the worker once the task has been processed.
	Done func()
}

// FillEvent is published after a fill run merges its results.
type FillEvent struct {
	RunID      string    `json:"run_id"`
	WeekEnd    string    `json:"week_end"`
	Discovered int       `json:"discovered"`
	Filled     int       `json:"filled"`
	Pending    int       `json:"pending"`
	FinishedAt time.Time `json:"finished_at"`
}

// FetchRequest captures everything needed to GET an archive index URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string {
	return &v
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
