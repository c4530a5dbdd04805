package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"telegram-plural-proxy-bot/proxy"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Transport posts proxied messages through the Telegram Bot API. Telegram
// bots cannot change their display identity per message, so the member is
// rendered as a bold header line above the content. Message ids are
// "chat:messageID" pairs since Telegram ids are only unique within a chat.
type Transport struct {
	api *telego.Bot
}

func NewTransport(api *telego.Bot) *Transport {
	return &Transport{api: api}
}

func encodeMessageID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func decodeMessageID(id string) (int64, int, error) {
	chatPart, messagePart, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed message id %q", id)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chat id in %q: %w", id, err)
	}
	messageID, err := strconv.Atoi(messagePart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id in %q: %w", id, err)
	}
	return chatID, messageID, nil
}

// Inside a MarkdownV2 link target only ')' and '\' are special.
var markdownV2URLEscaper = strings.NewReplacer(`\`, `\\`, `)`, `\)`)

func renderProxied(identity proxy.MemberIdentity, text string) string {
	header := "*" + escapeMarkdownV2(identity.DisplayName) + "*"
	if identity.AvatarURL != "" {
		header = "*[" + escapeMarkdownV2(identity.DisplayName) + "](" + markdownV2URLEscaper.Replace(identity.AvatarURL) + ")*"
	}
	return header + "\n" + escapeMarkdownV2(text)
}

func (t *Transport) SendAs(ctx context.Context, credential string, identity proxy.MemberIdentity, text string) (string, error) {
	chatID, err := strconv.ParseInt(credential, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed credential %q: %w", credential, err)
	}

	message := tu.Message(tu.ID(chatID), renderProxied(identity, text))
	message.ParseMode = "MarkdownV2"

	sent, err := t.api.SendMessage(ctx, message)
	if err != nil {
		return "", err
	}
	return encodeMessageID(sent.Chat.ID, sent.MessageID), nil
}

func (t *Transport) Edit(ctx context.Context, credential, messageID string, identity proxy.MemberIdentity, text string) error {
	chatID, id, err := decodeMessageID(messageID)
	if err != nil {
		return err
	}

	_, err = t.api.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: id,
		Text:      renderProxied(identity, text),
		ParseMode: "MarkdownV2",
	})
	return err
}

func (t *Transport) Delete(ctx context.Context, credential, messageID string) error {
	chatID, id, err := decodeMessageID(messageID)
	if err != nil {
		return err
	}

	return t.api.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: id,
	})
}
