package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botdash/internal/config"
	"botdash/internal/jobctl"
	"botdash/internal/model"
	"botdash/internal/reconciler"
	"botdash/internal/templates"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Listings is the reconciled listing view.
type Listings interface {
	Snapshot() reconciler.Snapshot
	Refresh()
}

// Logs is the classified live log.
type Logs interface {
	Entries() []model.LogEntry
	Clear()
	Connected() bool
}

// Jobs controls the bot process through the job service.
type Jobs interface {
	Status(ctx context.Context) (model.BotStatus, error)
	Start(ctx context.Context, mode string) (jobctl.StartResult, error)
	Stop(ctx context.Context) (bool, error)
	Config(ctx context.Context) (map[string]string, error)
	UpdateConfig(ctx context.Context, values map[string]string) error
	Stats(ctx context.Context) (model.JobStats, error)
}

// ListingStore applies operator decisions to listings.
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	GetSentMessage(ctx context.Context, listingID string) (*model.SentMessage, error)
	RecentListings(ctx context.Context, limit int) ([]model.Listing, error)
	SetListingStatus(ctx context.Context, id string, status model.ListingStatus) error
	SetListingCategory(ctx context.Context, id string, category model.Category) error
}

// Deps are the services the console operates on.
type Deps struct {
	Listings Listings
	Logs     Logs
	Jobs     Jobs
	Store    ListingStore
	Messages *templates.Catalog
	Prompts  *templates.Catalog
}

// Bot is the Telegram operator console.
type Bot struct {
	api      telegramAPI
	listings Listings
	logs     Logs
	jobs     Jobs
	store    ListingStore
	messages *templates.Catalog
	prompts  *templates.Catalog
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, deps Deps, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, deps, cfg, log), nil
}

func newBot(api telegramAPI, deps Deps, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		listings: deps.Listings,
		logs:     deps.Logs,
		jobs:     deps.Jobs,
		store:    deps.Store,
		messages: deps.Messages,
		prompts:  deps.Prompts,
		cfg:      cfg,
		log:      log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			b.ack(update.CallbackQuery.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// AlertLog forwards error log entries to the alert chat.
func (b *Bot) AlertLog(e model.LogEntry) {
	if b.cfg.AlertChatID == 0 || e.Category != model.LogError {
		return
	}
	b.SendMessage(b.cfg.AlertChatID, "❌ "+e.CleanMessage)
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	case "listings":
		b.handleListings(chatID, args)
	case "listing":
		b.handleListing(ctx, chatID, args)
	case "refresh":
		b.handleRefresh(chatID)
	case "filtered":
		b.handleFiltered(ctx, chatID, args)
	case "sent":
		b.handleSetStatus(ctx, chatID, args, model.StatusSent)
	case "open":
		b.handleSetStatus(ctx, chatID, args, model.StatusOpen)
	case "remove":
		b.handleSetStatus(ctx, chatID, args, model.StatusDeleted)
	case "category":
		b.handleCategory(ctx, chatID, args)
	case "logs":
		b.handleLogs(chatID, args)
	case "clearlogs":
		b.handleClearLogs(chatID)
	case "run":
		b.handleRun(ctx, chatID, args)
	case "stop":
		b.handleStop(ctx, chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "templates":
		b.handleTemplates(chatID, args)
	case "addtemplate":
		b.handleAddTemplate(ctx, chatID, args)
	case "edittemplate":
		b.handleEditTemplate(ctx, chatID, args)
	case "rmtemplate":
		b.handleRemoveTemplate(ctx, chatID, args)
	case "activate":
		b.handleToggleTemplate(ctx, chatID, args, true)
	case "deactivate":
		b.handleToggleTemplate(ctx, chatID, args, false)
	case "config":
		b.handleConfig(ctx, chatID)
	case "set":
		b.handleSet(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
