package bot

import (
	"fmt"
	"slices"
	"strings"

	"botdash/internal/filter"
	"botdash/internal/model"
)

const (
	listingPageSize = 15
	logPageSize     = 20
	shortIDLen      = 8
)

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func listingState(l model.Listing) string {
	switch {
	case l.Deleted && l.MessageSent:
		return "sent, deleted"
	case l.Deleted:
		return "deleted"
	case l.MessageSent:
		return "sent"
	default:
		return "open"
	}
}

// FormatListings formats a filtered page of listings with the counts of the
// unfiltered view.
func FormatListings(list []model.Listing, counts filter.Counts, args ListingArgs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Listings [%s / %s]: %d shown of %d\n", args.Status, args.Category, min(len(list), listingPageSize), len(list))
	fmt.Fprintf(&b, "open %d · sent %d · deleted %d · normal %d · abholung %d · defekt %d\n",
		counts.Open, counts.Sent, counts.Deleted, counts.Normal, counts.PickupOnly, counts.Defective)
	if len(list) == 0 {
		b.WriteString("\nNo listings match.")
		return b.String()
	}
	for _, l := range list[:min(len(list), listingPageSize)] {
		fmt.Fprintf(&b, "\n%s %s", shortID(l.ID), l.Title)
		if l.Price != "" {
			fmt.Fprintf(&b, " · %s", l.Price)
		}
		fmt.Fprintf(&b, " [%s, %s]", listingState(l), l.EffectiveCategory())
	}
	b.WriteString("\n\nUse /listing <id> for details.")
	return b.String()
}

// FormatListing formats detailed information about a single listing. sent is
// the delivery audit row, nil when there is none.
func FormatListing(l model.Listing, sent *model.SentMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", l.Title)
	fmt.Fprintf(&b, "ID: %s\n", l.ID)
	if l.Price != "" {
		fmt.Fprintf(&b, "Price: %s\n", l.Price)
	}
	if l.Location != nil && *l.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", *l.Location)
	}
	fmt.Fprintf(&b, "Created: %s\n", l.CreatedAt.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "State: %s\n", listingState(l))
	fmt.Fprintf(&b, "Category: %s\n", l.EffectiveCategory())
	if l.FilterStatus != nil {
		fmt.Fprintf(&b, "Filter: %s", *l.FilterStatus)
		if l.FilterReason != nil && *l.FilterReason != "" {
			fmt.Fprintf(&b, " (%s)", *l.FilterReason)
		}
		b.WriteString("\n")
	}
	if sent != nil {
		fmt.Fprintf(&b, "Delivery: %s at %s", sent.Status, sent.SentAt.Format("2006-01-02 15:04 UTC"))
		if sent.Log != "" {
			fmt.Fprintf(&b, " (%s)", preview(sent.Log, 60))
		}
		b.WriteString("\n")
	}
	if l.Link != "" {
		fmt.Fprintf(&b, "\n%s", l.Link)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatModeration formats the filter audit of the latest listings.
func FormatModeration(list []model.Listing, counts filter.ModerationCounts, args ModerationArgs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Filtered [%s]", args.Moderation)
	if args.Query != "" {
		fmt.Fprintf(&b, " %q", args.Query)
	}
	fmt.Fprintf(&b, ": %d shown of %d\n", min(len(list), listingPageSize), len(list))
	fmt.Fprintf(&b, "latest %d · passed %d · rejected %d\n", counts.All, counts.Passed, counts.Rejected)
	if len(list) == 0 {
		b.WriteString("\nNo listings match.")
		return b.String()
	}
	for _, l := range list[:min(len(list), listingPageSize)] {
		status := "unfiltered"
		if l.FilterStatus != nil {
			status = *l.FilterStatus
		}
		fmt.Fprintf(&b, "\n%s %s [%s]", shortID(l.ID), l.Title, status)
		if l.FilterReason != nil && *l.FilterReason != "" {
			fmt.Fprintf(&b, "\n   %s", preview(*l.FilterReason, 80))
		}
	}
	return b.String()
}

// FormatLogs formats the newest entries of the log view. entries are newest
// first, as the log stream keeps them.
func FormatLogs(entries []model.LogEntry, counts filter.LogCounts, f filter.Log, connected bool) string {
	var b strings.Builder
	conn := "connected"
	if !connected {
		conn = "disconnected"
	}
	fmt.Fprintf(&b, "Logs [%s] (%s): ✅ %d · ❌ %d · ⚠️ %d\n", f, conn, counts.Success, counts.Error, counts.Warning)
	if len(entries) == 0 {
		b.WriteString("\nNo log entries.")
		return b.String()
	}
	b.WriteString("\n")
	for _, e := range entries[:min(len(entries), logPageSize)] {
		fmt.Fprintf(&b, "%s %s %s\n", e.Timestamp.Format("15:04:05"), e.Icon, e.CleanMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStats formats the listing statistics and, when the job service
// answered, its counters.
func FormatStats(st model.Stats, loaded bool, jobs *model.JobStats) string {
	var b strings.Builder
	b.WriteString("Listings:\n")
	if !loaded {
		b.WriteString("  (still loading)\n")
	}
	fmt.Fprintf(&b, "  total %d\n  open %d\n  sent %d\n  deleted %d\n", st.Total, st.Open, st.Sent, st.Deleted)
	if jobs == nil {
		b.WriteString("\nJob service unavailable.")
		return b.String()
	}
	fmt.Fprintf(&b, "\nBot:\n  scraped %d\n  ai filtered %d\n  sent %d\n  errors %d", jobs.Scraped, jobs.AIFiltered, jobs.Sent, jobs.Error)
	return b.String()
}

// FormatBotStatus formats the bot process state.
func FormatBotStatus(st model.BotStatus, logsConnected bool) string {
	var b strings.Builder
	if st.Status == model.BotRunning {
		b.WriteString("Bot: running")
		if st.PID != nil {
			fmt.Fprintf(&b, " (pid %d)", *st.PID)
		}
		if st.Mode != "" {
			fmt.Fprintf(&b, "\nMode: %s", st.Mode)
		}
	} else {
		b.WriteString("Bot: " + st.Status)
	}
	if logsConnected {
		b.WriteString("\nLog stream: connected")
	} else {
		b.WriteString("\nLog stream: disconnected")
	}
	return b.String()
}

// FormatTemplates formats the templates of one kind.
func FormatTemplates(kind model.TemplateKind, items []model.Template) string {
	if len(items) == 0 {
		return fmt.Sprintf("No %s templates yet. Use /addtemplate %s <name> | <content> to add one.", kind, kind)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s templates:\n", strings.ToUpper(string(kind[:1]))+string(kind[1:]))
	for _, t := range items {
		state := "inactive"
		if t.IsActive {
			state = "active"
		}
		fmt.Fprintf(&b, "\n%s %s [%s]\n   %s\n", shortID(t.ID), t.Name, state, preview(t.Content, 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatConfig formats the bot configuration sorted by key. Secret-looking
// values are masked.
func FormatConfig(values map[string]string) string {
	if len(values) == 0 {
		return "Configuration is empty. Use /set <KEY> <value> to add a value."
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString("Configuration:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, maskSecret(k, values[k]))
	}
	return b.String()
}

func maskSecret(key, value string) string {
	upper := strings.ToUpper(key)
	for _, marker := range []string{"TOKEN", "SECRET", "PASSWORD", "KEY"} {
		if strings.Contains(upper, marker) && value != "" {
			return "••••"
		}
	}
	return value
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
