package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"telegram-plural-proxy-bot/storage"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// systemFor looks up the sender's system. The fill middleware created it, so
// a miss here means the update has no usable sender.
func (b *Bot) systemFor(update telego.Update) (*storage.System, error) {
	if update.Message == nil || update.Message.From == nil {
		return nil, storage.ErrNotFound
	}
	return b.storage.SystemByOwner(update.Message.From.ID)
}

// memberByAlias resolves a member reference argument and reports lookup
// failures back to the chat
func (b *Bot) memberByAlias(ctx context.Context, system *storage.System, alias string, chatID int64) (*storage.Member, bool) {
	member, err := b.storage.MemberByAlias(system.ID, alias)
	if err != nil {
		slog.Debug("bot: Member not found by alias", "system_id", system.ID, "alias", alias)
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("No member with alias '%s'.", alias)))
		return nil, false
	}
	return member, true
}

// repliedMessageID extracts the transport-level id of the replied-to message
func repliedMessageID(update telego.Update) (string, bool) {
	message := update.Message
	if message == nil || message.ReplyToMessage == nil {
		return "", false
	}
	return encodeMessageID(message.Chat.ID, message.ReplyToMessage.MessageID), true
}

func escapeMarkdownV2(text string) string {
	specialChars := []string{
		"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", "&", "<",
	}

	for _, char := range specialChars {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	message := tu.Message(tu.ID(chatID), text)
	message.ParseMode = "MarkdownV2"

	_, err := b.api.SendMessage(ctx, message)
	if err != nil {
		// Check if it's a rate limit error
		if strings.Contains(err.Error(), "Too Many Requests") {
			// Format: "telego: sendMessage: api: 429 \"Too Many Requests: retry after 5\", migrate to chat ID: 0, retry after: 5"
			parts := strings.Split(err.Error(), "retry after: ")
			if len(parts) == 2 {
				var retryAfter int
				if _, _ = fmt.Sscanf(parts[1], "%d", &retryAfter); retryAfter > 0 {
					slog.Info("bot: Rate limit hit, waiting", "seconds", retryAfter)
					time.Sleep(time.Duration(retryAfter) * time.Second)
					_, retryErr := b.api.SendMessage(ctx, message)
					err = retryErr
				}
			}
		}
		if err != nil {
			slog.Error("bot: Failed to send message", "error", err, "chat_id", chatID, "text_length", len(text))
		}
	}
}
