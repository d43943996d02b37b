// Package filter implements the read-side filters applied to the live
// listings and log views. Filters never change what is retained upstream.
package filter

import (
	"fmt"
	"strings"

	"botdash/internal/model"
)

// All matches every value of a filter dimension.
const All = "all"

// Status selects listings by their operator state.
type Status string

// Supported status filters.
const (
	StatusAll     Status = All
	StatusOpen    Status = "open"
	StatusSent    Status = "sent"
	StatusDeleted Status = "deleted"
)

// Category selects listings by category. A listing without a category
// counts as normal.
type Category string

// Supported category filters.
const (
	CategoryAll        Category = All
	CategoryNormal     Category = Category(model.CategoryNormal)
	CategoryPickupOnly Category = Category(model.CategoryPickupOnly)
	CategoryDefective  Category = Category(model.CategoryDefective)
)

// ParseStatus parses a status filter. An empty string means all.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusAll:
		return StatusAll, nil
	case StatusOpen, StatusSent, StatusDeleted:
		return st, nil
	}
	return "", fmt.Errorf("invalid status filter %q, use: all, open, sent, deleted", s)
}

// ParseCategory parses a category filter. An empty string means all.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, All) {
		return CategoryAll, nil
	}
	c, ok := model.ParseCategory(s)
	if !ok {
		return "", fmt.Errorf("invalid category filter %q, use: all, normal, abholung, defekt", s)
	}
	return Category(c), nil
}

// Match checks whether a listing passes both filters.
func Match(l model.Listing, status Status, category Category) bool {
	switch status {
	case StatusOpen:
		if !l.Open() {
			return false
		}
	case StatusSent:
		if !l.MessageSent {
			return false
		}
	case StatusDeleted:
		if !l.Deleted {
			return false
		}
	}
	if category != CategoryAll && category != "" && Category(l.EffectiveCategory()) != category {
		return false
	}
	return true
}

// Listings returns the listings passing both filters, keeping their order.
func Listings(list []model.Listing, status Status, category Category) []model.Listing {
	out := make([]model.Listing, 0, len(list))
	for _, l := range list {
		if Match(l, status, category) {
			out = append(out, l)
		}
	}
	return out
}

// Counts holds the number of listings behind each filter choice.
type Counts struct {
	All        int `json:"all"`
	Open       int `json:"open"`
	Sent       int `json:"sent"`
	Deleted    int `json:"deleted"`
	Normal     int `json:"normal"`
	PickupOnly int `json:"abholung"`
	Defective  int `json:"defekt"`
}

// CountListings computes the per-filter counts of list.
func CountListings(list []model.Listing) Counts {
	var c Counts
	for _, l := range list {
		c.All++
		if l.Open() {
			c.Open++
		}
		if l.MessageSent {
			c.Sent++
		}
		if l.Deleted {
			c.Deleted++
		}
		switch l.EffectiveCategory() {
		case model.CategoryNormal:
			c.Normal++
		case model.CategoryPickupOnly:
			c.PickupOnly++
		case model.CategoryDefective:
			c.Defective++
		}
	}
	return c
}

// Log selects log entries by category; the zero value and "all" match all.
type Log string

// ParseLog parses a log category filter.
func ParseLog(s string) (Log, error) {
	switch c := model.LogCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case "", All:
		return All, nil
	case model.LogSuccess, model.LogError, model.LogWarning, model.LogInfo, model.LogAction, model.LogSystem:
		return Log(c), nil
	}
	return "", fmt.Errorf("invalid log filter %q", s)
}

// Logs returns the entries matching f, keeping their order.
func Logs(entries []model.LogEntry, f Log) []model.LogEntry {
	if f == "" || f == All {
		return entries
	}
	out := make([]model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if Log(e.Category) == f {
			out = append(out, e)
		}
	}
	return out
}

// LogCounts holds the badge counts shown next to the log view.
type LogCounts struct {
	Success int `json:"success"`
	Error   int `json:"error"`
	Warning int `json:"warning"`
}

// CountLogs computes the badge counts of entries.
func CountLogs(entries []model.LogEntry) LogCounts {
	var c LogCounts
	for _, e := range entries {
		switch e.Category {
		case model.LogSuccess:
			c.Success++
		case model.LogError:
			c.Error++
		case model.LogWarning:
			c.Warning++
		}
	}
	return c
}

// ModerationWindow is the number of latest listings the moderation view
// inspects.
const ModerationWindow = 200

// Moderation selects listings by the outcome of the bot's filtering.
type Moderation string

// Supported moderation filters.
const (
	ModerationAll      Moderation = All
	ModerationPassed   Moderation = "passed"
	ModerationRejected Moderation = "rejected"
)

// ParseModeration parses a moderation filter. An empty string means all.
func ParseModeration(s string) (Moderation, error) {
	switch m := Moderation(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModerationAll:
		return ModerationAll, nil
	case ModerationPassed, ModerationRejected:
		return m, nil
	}
	return "", fmt.Errorf("invalid moderation filter %q, use: all, passed, rejected", s)
}

// Moderated returns the listings whose filter status contains m and whose
// title or filter reason contains query, ignoring case. Order is kept.
func Moderated(list []model.Listing, m Moderation, query string) []model.Listing {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]model.Listing, 0, len(list))
	for _, l := range list {
		if m != ModerationAll && m != "" && !hasStatus(l, string(m)) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(l.Title), query) &&
			(l.FilterReason == nil || !strings.Contains(strings.ToLower(*l.FilterReason), query)) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// ModerationCounts holds the totals shown above the moderation view.
type ModerationCounts struct {
	All      int `json:"all"`
	Passed   int `json:"passed"`
	Rejected int `json:"rejected"`
}

// CountModeration counts list by filter outcome. Listings that were never
// filtered count only towards All.
func CountModeration(list []model.Listing) ModerationCounts {
	c := ModerationCounts{All: len(list)}
	for _, l := range list {
		if hasStatus(l, string(ModerationPassed)) {
			c.Passed++
		}
		if hasStatus(l, string(ModerationRejected)) {
			c.Rejected++
		}
	}
	return c
}

func hasStatus(l model.Listing, tag string) bool {
	return l.FilterStatus != nil && strings.Contains(*l.FilterStatus, tag)
}
