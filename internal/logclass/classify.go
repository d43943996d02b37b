// Package logclass turns raw bot log lines into categorized entries.
package logclass

import (
	"regexp"
	"strings"

	"botdash/internal/model"
)

// Icon tags attached to classified entries.
const (
	IconCheck    = "check"
	IconXCircle  = "x-circle"
	IconAlert    = "alert"
	IconSend     = "send"
	IconCookie   = "cookie"
	IconDatabase = "database"
	IconSearch   = "search"
	IconLoader   = "loader"
	IconInfo     = "info"
)

var separatorRe = regexp.MustCompile(`^[=\-_]{5,}$`)

type rule struct {
	markers  []string
	category model.LogCategory
	icon     string
	strip    string
}

// Order matters: the first rule with a matching marker wins.
var rules = []rule{
	{
		markers:  []string{"✅", "gesendet", "erfolgreich", "eingeloggt"},
		category: model.LogSuccess,
		icon:     IconCheck,
		strip:    "✅🎉",
	},
	{
		markers:  []string{"❌", "fehler", "failed", "error"},
		category: model.LogError,
		icon:     IconXCircle,
		strip:    "❌",
	},
	{
		markers:  []string{"⚠️", "warnung", "überspringe", "⏩"},
		category: model.LogWarning,
		icon:     IconAlert,
		strip:    "⚠️⏩",
	},
	{
		markers:  []string{"📨", "senden", "nachricht"},
		category: model.LogAction,
		icon:     IconSend,
		strip:    "📨📬",
	},
	{
		markers:  []string{"🍪", "cookie", "🔐", "login"},
		category: model.LogSystem,
		icon:     IconCookie,
		strip:    "🍪🔐",
	},
	{
		markers:  []string{"💾", "supabase", "db", "📊"},
		category: model.LogInfo,
		icon:     IconDatabase,
		strip:    "💾📊📡",
	},
	{
		markers:  []string{"🔍", "scrape", "suche", "📋"},
		category: model.LogInfo,
		icon:     IconSearch,
		strip:    "🔍📋",
	},
	{
		markers:  []string{"⏳", "🚀", "starte", "lade"},
		category: model.LogSystem,
		icon:     IconLoader,
		strip:    "⏳🚀",
	},
}

var fallback = rule{
	category: model.LogInfo,
	icon:     IconInfo,
	strip:    "📧🌐📍📱🆕ℹ️",
}

// Skip reports whether a line carries no content worth showing: it is empty
// after trimming or a separator made only of '=', '-' and '_'.
func Skip(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || separatorRe.MatchString(line)
}

// Classify categorizes a log line. It returns false for lines rejected by
// Skip. The returned entry has no timestamp; callers stamp the receipt time.
func Classify(line string) (model.LogEntry, bool) {
	msg := strings.TrimSpace(line)
	if Skip(msg) {
		return model.LogEntry{}, false
	}

	r := match(strings.ToLower(msg))
	return model.LogEntry{
		Message:      msg,
		Category:     r.category,
		Icon:         r.icon,
		CleanMessage: strings.TrimSpace(stripGlyphs(msg, r.strip)),
	}, true
}

func match(lower string) rule {
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(lower, m) {
				return r
			}
		}
	}
	return fallback
}

func stripGlyphs(s, glyphs string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(glyphs, r) {
			return -1
		}
		return r
	}, s)
}
