// Package bot implements the Telegram command surface: subscription and
// push-target management, plus the manual trigger for the ingestion run.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rsspush/internal/model"
	"rsspush/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Fetcher validates and previews feed sources for /add and /test.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.Item, error)
}

// Checker triggers a manual ingestion run.
type Checker interface {
	CheckFeeds(ctx context.Context)
}

// Bot handles user commands and sends notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	fetcher Fetcher
	checker Checker
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token. The checker is wired in
// afterwards via SetChecker.
func New(token string, store storage.Storage, fetcher Fetcher, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:     api,
		store:   store,
		fetcher: fetcher,
		log:     log,
	}, nil
}

// SetChecker wires in the manual-trigger target for /check. The scheduler
// depends on the bot as its message sender, so this link is set after both
// are constructed.
func (b *Bot) SetChecker(c Checker) {
	b.checker = c
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
			if update.MyChatMember != nil {
				b.handleChatMember(ctx, update.MyChatMember)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendItem delivers a formatted item notification with Markdown enabled and
// the link preview left on. It satisfies the fan-out dispatcher's Sender.
func (b *Bot) SendItem(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send item to %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	ownerID := msg.From.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "owner_id", ownerID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, ownerID, args)
	case "list":
		b.handleList(ctx, chatID, ownerID)
	case "del":
		b.handleDel(ctx, chatID, ownerID, args)
	case "test":
		b.handleTest(ctx, chatID, args)
	case "failed":
		b.handleFailed(ctx, chatID, ownerID)
	case "stats":
		b.handleStats(ctx, chatID, ownerID)
	case "register":
		b.handleRegister(ctx, msg)
	case "targets":
		b.handleTargets(ctx, chatID, ownerID)
	case "bind":
		b.handleBind(ctx, chatID, ownerID, args)
	case "unbind":
		b.handleUnbind(ctx, chatID, ownerID, args)
	case "enable":
		b.handleTargetStatus(ctx, chatID, ownerID, args, model.TargetActive)
	case "disable":
		b.handleTargetStatus(ctx, chatID, ownerID, args, model.TargetInactive)
	case "untarget":
		b.handleUntarget(ctx, chatID, ownerID, args)
	case "check":
		b.handleCheck(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// handleChatMember registers the chat as a push target when the bot is added
// to a group or channel, and deactivates it when the bot is removed.
func (b *Bot) handleChatMember(ctx context.Context, m *tgbotapi.ChatMemberUpdated) {
	chat := m.Chat
	if !chat.IsGroup() && !chat.IsSuperGroup() && !chat.IsChannel() {
		return
	}

	switch m.NewChatMember.Status {
	case "member", "administrator":
		target := &model.PushTarget{
			OwnerID:  m.From.ID,
			ChatID:   chat.ID,
			ChatType: model.ChatType(chat.Type),
			Title:    chat.Title,
			Username: chat.UserName,
			Status:   model.TargetActive,
		}
		if err := b.store.UpsertTarget(ctx, target); err != nil {
			b.log.Error("register target", "chat_id", chat.ID, "error", err)
			return
		}
		// The upsert preserves the status of an existing row, so a target
		// deactivated by an earlier kick is reactivated explicitly.
		if _, err := b.store.SetTargetStatus(ctx, m.From.ID, chat.ID, model.TargetActive); err != nil {
			b.log.Error("activate target", "chat_id", chat.ID, "error", err)
			return
		}
		b.log.Info("push target registered", "chat_id", chat.ID, "owner_id", m.From.ID, "title", chat.Title)
	case "left", "kicked":
		if _, err := b.store.SetTargetStatus(ctx, m.From.ID, chat.ID, model.TargetInactive); err != nil {
			b.log.Error("deactivate target", "chat_id", chat.ID, "error", err)
			return
		}
		b.log.Info("push target deactivated", "chat_id", chat.ID, "owner_id", m.From.ID)
	}
}
