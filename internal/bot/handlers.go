package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botdash/internal/filter"
	"botdash/internal/model"
	"botdash/internal/runner"
	"botdash/internal/storage"
	"botdash/internal/templates"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the bot dashboard!

Watch scraped listings, follow the bot's log and control its runs.

Quick start:
1. /status — is the bot running?
2. /run scrape — start a scrape run
3. /listings open — listings waiting for you

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Listings:
/listings [status] [category] — show listings
/listing <id> — listing details with actions
/sent <id> — mark as contacted
/remove <id> — mark as deleted
/open <id> — reopen
/category <id> <normal|abholung|defekt> — set category
/refresh — reload listings
/filtered [passed|rejected] [query] — what the bot's filter decided
/stats — statistics

Bot control:
/status — bot process state
/run [full|scrape|send|debug] — start the bot
/stop — stop the bot
/logs [category] — recent log lines
/clearlogs — clear the log view

Templates:
/templates [message|prompt] — list templates
/addtemplate <kind> <name> | <content> — add a template
/edittemplate <id> <name> | <content> — edit a template
/rmtemplate <id> — delete a template
/activate <id>, /deactivate <id> — switch a template on or off

Configuration:
/config — show the bot configuration
/set <KEY> <value> — change a value

Status: all | open | sent | deleted
Category: all | normal | abholung | defekt
IDs may be shortened to their first characters.`)
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	snap := b.listings.Snapshot()

	var jobs *model.JobStats
	if st, err := b.jobs.Stats(ctx); err != nil {
		b.log.Warn("fetch job stats", "error", err)
	} else {
		jobs = &st
	}
	b.reply(chatID, FormatStats(snap.Stats, snap.Loaded, jobs))
}

func (b *Bot) handleListings(chatID int64, args string) {
	la, err := ParseListingArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	snap := b.listings.Snapshot()
	if !snap.Loaded && len(snap.Listings) == 0 {
		b.reply(chatID, "Listings are still loading, try again in a moment.")
		return
	}
	list := filter.Listings(snap.Listings, la.Status, la.Category)
	b.reply(chatID, FormatListings(list, filter.CountListings(snap.Listings), la))
}

func (b *Bot) handleListing(ctx context.Context, chatID int64, args string) {
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /listing <id>")
		return
	}
	l, err := b.resolveListing(ctx, ref)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	sent, err := b.store.GetSentMessage(ctx, l.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.log.Warn("get sent message", "listing_id", l.ID, "error", err)
		}
		sent = nil
	}
	b.replyWithKeyboard(chatID, FormatListing(l, sent), listingKeyboard(l.ID))
}

// handleFiltered shows what the bot's filter did with the latest listings,
// rejected ones included. It reads the store since the live view holds only
// visible listings.
func (b *Bot) handleFiltered(ctx context.Context, chatID int64, args string) {
	ma := ParseModerationArgs(args)
	all, err := b.store.RecentListings(ctx, filter.ModerationWindow)
	if err != nil {
		b.log.Error("load recent listings", "error", err)
		b.reply(chatID, "Failed to load listings.")
		return
	}
	b.reply(chatID, FormatModeration(filter.Moderated(all, ma.Moderation, ma.Query), filter.CountModeration(all), ma))
}

func (b *Bot) handleRefresh(chatID int64) {
	b.listings.Refresh()
	b.reply(chatID, "Reloading listings.")
}

func (b *Bot) handleSetStatus(ctx context.Context, chatID int64, args string, status model.ListingStatus) {
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", statusCommand(status)))
		return
	}
	l, err := b.resolveListing(ctx, ref)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.setStatus(ctx, chatID, l, status)
}

func (b *Bot) setStatus(ctx context.Context, chatID int64, l model.Listing, status model.ListingStatus) {
	if err := b.store.SetListingStatus(ctx, l.ID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Listing %s not found.", shortID(l.ID)))
			return
		}
		b.log.Error("set listing status", "id", l.ID, "status", status, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to update listing: %v", err))
		return
	}
	b.log.Info("listing status set", "id", l.ID, "status", status)
	b.reply(chatID, fmt.Sprintf("%s \"%s\" is now %s.", shortID(l.ID), l.Title, status))
}

func (b *Bot) handleCategory(ctx context.Context, chatID int64, args string) {
	ref, category, err := ParseCategoryArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	l, err := b.resolveListing(ctx, ref)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.setCategory(ctx, chatID, l, category)
}

func (b *Bot) setCategory(ctx context.Context, chatID int64, l model.Listing, category model.Category) {
	if err := b.store.SetListingCategory(ctx, l.ID, category); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Listing %s not found.", shortID(l.ID)))
			return
		}
		b.log.Error("set listing category", "id", l.ID, "category", category, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to update listing: %v", err))
		return
	}
	b.log.Info("listing category set", "id", l.ID, "category", category)
	b.reply(chatID, fmt.Sprintf("%s \"%s\" is now in category %s.", shortID(l.ID), l.Title, category))
}

func (b *Bot) handleLogs(chatID int64, args string) {
	f, err := filter.ParseLog(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v, use: all, success, error, warning, info, action, system", err))
		return
	}
	entries := b.logs.Entries()
	b.reply(chatID, FormatLogs(filter.Logs(entries, f), filter.CountLogs(entries), f, b.logs.Connected()))
}

func (b *Bot) handleClearLogs(chatID int64) {
	b.logs.Clear()
	b.reply(chatID, "Log view cleared.")
}

func (b *Bot) handleRun(ctx context.Context, chatID int64, args string) {
	mode, err := runner.ParseMode(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v, use: full, scrape, send, debug", err))
		return
	}
	res, err := b.jobs.Start(ctx, string(mode))
	if err != nil {
		b.log.Error("start bot", "mode", mode, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to start the bot: %v", err))
		return
	}
	b.log.Info("bot started", "mode", res.Mode, "pid", res.PID)
	b.reply(chatID, fmt.Sprintf("Bot started in %s mode (pid %d).", res.Mode, res.PID))
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	stopped, err := b.jobs.Stop(ctx)
	if err != nil {
		b.log.Error("stop bot", "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to stop the bot: %v", err))
		return
	}
	if !stopped {
		b.reply(chatID, "The bot is not running.")
		return
	}
	b.reply(chatID, "Bot stopped.")
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st, err := b.jobs.Status(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Job service unreachable: %v", err))
		return
	}
	b.reply(chatID, FormatBotStatus(st, b.logs.Connected()))
}

func (b *Bot) handleTemplates(chatID int64, args string) {
	kind, err := ParseTemplateKind(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	c := b.catalog(kind)
	b.reply(chatID, FormatTemplates(kind, c.Items()))
}

func (b *Bot) handleAddTemplate(ctx context.Context, chatID int64, args string) {
	ta, err := ParseTemplateArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /addtemplate <message|prompt> <name> | <content>")
		return
	}
	kind, err := ParseTemplateKind(ta.Head)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	t, err := b.catalog(kind).Add(ctx, ta.Name, ta.Content)
	if err != nil {
		b.log.Error("add template", "kind", kind, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to add template: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Template %s \"%s\" added (inactive). Use /activate %s to switch it on.", shortID(t.ID), t.Name, shortID(t.ID)))
}

func (b *Bot) handleEditTemplate(ctx context.Context, chatID int64, args string) {
	ta, err := ParseTemplateArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /edittemplate <id> <name> | <content>")
		return
	}
	c, t, err := b.resolveTemplate(ta.Head)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	edited, err := c.Edit(ctx, t.ID, ta.Name, ta.Content)
	if err != nil {
		b.log.Error("edit template", "id", t.ID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to edit template: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Template %s \"%s\" updated.", shortID(edited.ID), edited.Name))
}

func (b *Bot) handleRemoveTemplate(ctx context.Context, chatID int64, args string) {
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmtemplate <id>")
		return
	}
	c, t, err := b.resolveTemplate(ref)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := c.Delete(ctx, t.ID); err != nil {
		b.log.Error("delete template", "id", t.ID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to delete template: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Template %s \"%s\" deleted.", shortID(t.ID), t.Name))
}

func (b *Bot) handleToggleTemplate(ctx context.Context, chatID int64, args string, active bool) {
	cmd := "activate"
	if !active {
		cmd = "deactivate"
	}
	ref, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", cmd))
		return
	}
	c, t, err := b.resolveTemplate(ref)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := c.SetActive(ctx, t.ID, active); err != nil {
		b.log.Error("toggle template", "id", t.ID, "active", active, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to update template: %v", err))
		return
	}
	state := "active"
	if !active {
		state = "inactive"
	}
	b.reply(chatID, fmt.Sprintf("Template %s \"%s\" is now %s.", shortID(t.ID), t.Name, state))
}

func (b *Bot) handleConfig(ctx context.Context, chatID int64) {
	values, err := b.jobs.Config(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to load configuration: %v", err))
		return
	}
	b.reply(chatID, FormatConfig(values))
}

func (b *Bot) handleSet(ctx context.Context, chatID int64, args string) {
	key, value, err := ParseSetArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.jobs.UpdateConfig(ctx, map[string]string{key: value}); err != nil {
		b.log.Error("update config", "key", key, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to update configuration: %v", err))
		return
	}
	b.log.Info("config updated", "key", key)
	b.reply(chatID, fmt.Sprintf("%s updated. The bot picks it up on its next start.", key))
}

// resolveListing finds a listing by ID or unique ID prefix, looking at the
// live view first and falling back to the store.
func (b *Bot) resolveListing(ctx context.Context, ref string) (model.Listing, error) {
	var match *model.Listing
	for _, l := range b.listings.Snapshot().Listings {
		if l.ID == ref {
			return l, nil
		}
		if strings.HasPrefix(l.ID, ref) {
			if match != nil {
				return model.Listing{}, fmt.Errorf("ID %s is ambiguous, use more characters", ref)
			}
			match = &l
		}
	}
	if match != nil {
		return *match, nil
	}

	l, err := b.store.GetListing(ctx, ref)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("get listing", "id", ref, "error", err)
		}
		return model.Listing{}, fmt.Errorf("listing %s not found", ref)
	}
	return *l, nil
}

// resolveTemplate finds a template of either kind by ID or unique ID prefix.
func (b *Bot) resolveTemplate(ref string) (*templates.Catalog, model.Template, error) {
	var (
		cat   *templates.Catalog
		match model.Template
		n     int
	)
	for _, c := range []*templates.Catalog{b.messages, b.prompts} {
		for _, t := range c.Items() {
			if t.ID == ref {
				return c, t, nil
			}
			if strings.HasPrefix(t.ID, ref) {
				cat, match = c, t
				n++
			}
		}
	}
	switch n {
	case 0:
		return nil, model.Template{}, fmt.Errorf("template %s not found", ref)
	case 1:
		return cat, match, nil
	default:
		return nil, model.Template{}, fmt.Errorf("ID %s is ambiguous, use more characters", ref)
	}
}

func (b *Bot) catalog(kind model.TemplateKind) *templates.Catalog {
	if kind == model.TemplatePrompt {
		return b.prompts
	}
	return b.messages
}

func statusCommand(s model.ListingStatus) string {
	if s == model.StatusDeleted {
		return "remove"
	}
	return string(s)
}

func listingKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✉️ Sent", actionSent+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", actionDeleted+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("↩️ Open", actionOpen+":"+id),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Normal", string(model.CategoryNormal)+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("Abholung", string(model.CategoryPickupOnly)+":"+id),
			tgbotapi.NewInlineKeyboardButtonData("Defekt", string(model.CategoryDefective)+":"+id),
		),
	)
}
