// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// Category classifies a listing by how it can be handed over.
type Category string

// Supported listing categories. The values match what the bot writes.
const (
	CategoryNormal     Category = "normal"
	CategoryPickupOnly Category = "abholung"
	CategoryDefective  Category = "defekt"
)

// ParseCategory maps user input to a Category.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return CategoryNormal, true
	case "abholung", "pickup", "pickup-only":
		return CategoryPickupOnly, true
	case "defekt", "defective":
		return CategoryDefective, true
	}
	return "", false
}

// Listing is one scraped item tracked by the bot.
type Listing struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        string    `json:"price"`
	Link         string    `json:"link"`
	Location     *string   `json:"location"`
	CreatedAt    time.Time `json:"created_at"`
	MessageSent  bool      `json:"message_sent"`
	Deleted      bool      `json:"deleted"`
	Category     *Category `json:"category"`
	FilterStatus *string   `json:"filter_status"`
	FilterReason *string   `json:"filter_reason"`
}

// Visible reports whether the listing belongs in the operator view: either it
// was never filtered or the filter let it pass.
func (l Listing) Visible() bool {
	return l.FilterStatus == nil || strings.Contains(*l.FilterStatus, "passed")
}

// Open reports whether the listing is neither contacted nor deleted.
func (l Listing) Open() bool {
	return !l.MessageSent && !l.Deleted
}

// EffectiveCategory returns the category, treating an unset one as normal.
func (l Listing) EffectiveCategory() Category {
	if l.Category == nil {
		return CategoryNormal
	}
	return *l.Category
}

// ListingStatus is the operator-facing state of a listing.
type ListingStatus string

// Listing states an operator can set.
const (
	StatusOpen    ListingStatus = "open"
	StatusSent    ListingStatus = "sent"
	StatusDeleted ListingStatus = "deleted"
)

// ParseListingStatus maps user input to a ListingStatus.
func ParseListingStatus(s string) (ListingStatus, bool) {
	switch ListingStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, true
	case StatusSent:
		return StatusSent, true
	case StatusDeleted:
		return StatusDeleted, true
	}
	return "", false
}

// Stats are aggregate counts over a set of listings. Sent and Deleted are
// independent flags, so the counts do not add up to Total.
type Stats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Deleted int `json:"deleted"`
	Open    int `json:"open"`
}

// ChangeKind discriminates change-feed events.
type ChangeKind string

// Change-feed event kinds.
const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one event of the listings change feed. Insert and update carry
// the new record; delete carries only the ID.
type Change struct {
	Kind    ChangeKind
	Listing *Listing
	ID      string
}

// SentMessage is the audit record written when a listing is contacted.
type SentMessage struct {
	ListingID string
	Status    string
	SentAt    time.Time
	Log       string
}

// Audit statuses of a SentMessage.
const (
	SentStatusSent   = "sent"
	SentStatusFailed = "failed"
)

// TemplateKind separates outgoing message templates from AI prompts.
type TemplateKind string

// Supported template kinds.
const (
	TemplateMessage TemplateKind = "message"
	TemplatePrompt  TemplateKind = "prompt"
)

// Template is a reusable message or prompt text.
type Template struct {
	ID        string       `json:"id"`
	Kind      TemplateKind `json:"kind"`
	Name      string       `json:"name"`
	Content   string       `json:"content"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
}

// LogCategory is the classification of a bot log line.
type LogCategory string

// Log categories.
const (
	LogSuccess LogCategory = "success"
	LogError   LogCategory = "error"
	LogWarning LogCategory = "warning"
	LogInfo    LogCategory = "info"
	LogAction  LogCategory = "action"
	LogSystem  LogCategory = "system"
)

// LogEntry is a classified bot log line. It only lives in memory.
type LogEntry struct {
	Timestamp    time.Time   `json:"timestamp"`
	Message      string      `json:"message"`
	Category     LogCategory `json:"category"`
	Icon         string      `json:"icon"`
	CleanMessage string      `json:"clean_message"`
}

// Bot process states reported by the job-control service.
const (
	BotIdle    = "idle"
	BotRunning = "running"
)

// BotStatus is the job-control view of the bot process.
type BotStatus struct {
	Status string `json:"status"`
	PID    *int   `json:"pid,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// JobStats are the counters served by the job-control stats endpoint.
type JobStats struct {
	Scraped    int `json:"scraped"`
	AIFiltered int `json:"ai_filtered"`
	Sent       int `json:"sent"`
	Error      int `json:"error"`
}
