package bot

import (
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

// systemFillMiddleware makes sure the sender has a system row and keeps its
// chat credential pointing at the chat the system last posted from
func (b *Bot) systemFillMiddleware(ctx *th.Context, update telego.Update) error {
	if update.Message != nil && update.Message.From != nil {
		from := update.Message.From

		system, err := b.storage.FindOrCreateSystem(from.ID, from.FirstName)
		if err != nil {
			slog.Error("bot: Cannot find or create system", "error", err, "owner_id", from.ID)

			b.sendMessage(ctx, update.Message.Chat.ID,
				escapeMarkdownV2("Database error. Please try again or report the problem."))
			return nil
		}

		credential := strconv.FormatInt(update.Message.Chat.ID, 10)
		if system.Credential != credential {
			if err := b.storage.SetCredential(system.ID, credential); err != nil {
				slog.Error("bot: Cannot refresh system credential", "error", err, "system_id", system.ID)
			}
		}
	}

	return ctx.Next(update)
}
