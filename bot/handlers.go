package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"telegram-plural-proxy-bot/proxy"
	"telegram-plural-proxy-bot/storage"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

func (b *Bot) startHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/start")

	b.sendMessage(ctx, update.Message.Chat.ID, escapeMarkdownV2(
		"Welcome! Your system has been registered. "+
			"Add members with /member add, give them triggers with /trigger add, "+
			"and your messages will be posted under their names. See /help."))
	return nil
}

func (b *Bot) helpHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/help")

	b.sendMessage(ctx, update.Message.Chat.ID, escapeMarkdownV2(
		"Commands:\n"+
			"/system name <name> - rename your system\n"+
			"/system autoswitch on|off - switch front on trigger match\n"+
			"/member add <alias> <display name> - add a member\n"+
			"/member list - list members\n"+
			"/member enable|disable <alias>\n"+
			"/alias add <member> <new alias> | /alias del <alias>\n"+
			"/trigger add <member> prefix|suffix <text> | /trigger list | /trigger del <id>\n"+
			"/front <member> | /front clear - set who is fronting\n"+
			"Reply to a proxied message with /edit <text>, /reproxy <member> or /del."))
	return nil
}

func (b *Bot) systemHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/system")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 3 {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /system name <name> | /system autoswitch on|off"))
		return nil
	}

	switch args[1] {
	case "name":
		name := strings.Join(args[2:], " ")
		if err := b.storage.RenameSystem(system.ID, name); err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to rename system."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("System renamed to '%s'.", name)))
	case "autoswitch":
		on := args[2] == "on"
		if !on && args[2] != "off" {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /system autoswitch on|off"))
			return nil
		}
		if err := b.storage.SetSwitchOnTrigger(system.ID, on); err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to update the setting."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Trigger front switching is now %s.", args[2])))
	default:
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /system name <name> | /system autoswitch on|off"))
	}
	return nil
}

func (b *Bot) memberHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/member")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 2 {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /member add <alias> <display name> | list | enable <alias> | disable <alias>"))
		return nil
	}

	switch args[1] {
	case "add":
		if len(args) < 4 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /member add <alias> <display name>"))
			return nil
		}
		alias := args[2]
		displayName := strings.Join(args[3:], " ")

		member := storage.Member{
			FullName:    displayName,
			DisplayName: displayName,
		}
		if err := b.storage.CreateMember(system.ID, &member); err != nil {
			slog.Error("bot: Failed to create member", "error", err, "system_id", system.ID)
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to create member. Try again later."))
			return nil
		}
		if err := b.storage.CreateAlias(system.ID, member.ID, alias); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				b.sendMessage(ctx, chatID, escapeMarkdownV2(
					fmt.Sprintf("Member created, but alias '%s' is already taken. Add another with /alias add.", alias)))
				return nil
			}
			slog.Error("bot: Failed to create alias", "error", err, "system_id", system.ID)
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Member created, but the alias could not be saved."))
			return nil
		}

		slog.Info("bot: Member created", "system_id", system.ID, "member_id", member.ID, "alias", alias)
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Member '%s' created with alias '%s'.", displayName, alias)))
	case "list":
		members, err := b.storage.Members(system.ID)
		if err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to list members."))
			return nil
		}
		if len(members) == 0 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("No members yet. Add one with /member add."))
			return nil
		}

		var lines []string
		for _, member := range members {
			line := member.DisplayName
			if system.FrontingMemberID != nil && *system.FrontingMemberID == member.ID {
				line += " (fronting)"
			}
			if !member.Enabled {
				line += " (disabled)"
			}
			lines = append(lines, line)
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Members:\n"+strings.Join(lines, "\n")))
	case "enable", "disable":
		if len(args) < 3 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Usage: /member %s <alias>", args[1])))
			return nil
		}
		member, ok := b.memberByAlias(ctx, system, args[2], chatID)
		if !ok {
			return nil
		}

		enabled := args[1] == "enable"
		if err := b.storage.SetMemberEnabled(system.ID, member.ID, enabled); err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to update the member."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Member '%s' %sd.", member.DisplayName, args[1])))
	default:
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /member add <alias> <display name> | list | enable <alias> | disable <alias>"))
	}
	return nil
}

func (b *Bot) aliasHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/alias")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 3 {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /alias add <member> <new alias> | /alias del <alias>"))
		return nil
	}

	switch args[1] {
	case "add":
		if len(args) < 4 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /alias add <member> <new alias>"))
			return nil
		}
		member, ok := b.memberByAlias(ctx, system, args[2], chatID)
		if !ok {
			return nil
		}

		if err := b.storage.CreateAlias(system.ID, member.ID, args[3]); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Alias '%s' is already taken.", args[3])))
				return nil
			}
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to add the alias."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Alias '%s' added for '%s'.", args[3], member.DisplayName)))
	case "del":
		if err := b.storage.DeleteAlias(system.ID, args[2]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("No alias '%s'.", args[2])))
				return nil
			}
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to delete the alias."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Alias '%s' deleted.", args[2])))
	default:
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /alias add <member> <new alias> | /alias del <alias>"))
	}
	return nil
}

func (b *Bot) triggerHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/trigger")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 2 {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /trigger add <member> prefix|suffix <text> | /trigger list | /trigger del <id>"))
		return nil
	}

	switch args[1] {
	case "add":
		if len(args) < 5 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /trigger add <member> prefix|suffix <text>"))
			return nil
		}
		member, ok := b.memberByAlias(ctx, system, args[2], chatID)
		if !ok {
			return nil
		}

		kind := storage.TriggerKind(args[3])
		text := strings.Join(args[4:], " ")

		trigger, err := b.storage.CreateTrigger(system.ID, member.ID, text, kind)
		if err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("Trigger '%s' already exists.", text)))
				return nil
			}
			if errors.Is(err, storage.ErrInvalid) {
				b.sendMessage(ctx, chatID, escapeMarkdownV2("Trigger kind must be 'prefix' or 'suffix' and the text cannot be empty."))
				return nil
			}
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to create the trigger."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(
			fmt.Sprintf("Trigger #%d created: %s '%s' for '%s'.", trigger.ID, kind, text, member.DisplayName)))
	case "list":
		triggers, err := b.storage.Triggers(system.ID)
		if err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to list triggers."))
			return nil
		}
		if len(triggers) == 0 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("No triggers yet. Add one with /trigger add."))
			return nil
		}

		var lines []string
		for _, trigger := range triggers {
			lines = append(lines, fmt.Sprintf("#%d %s '%s' -> %s",
				trigger.ID, trigger.Kind, trigger.Text, trigger.Member.DisplayName))
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Triggers:\n"+strings.Join(lines, "\n")))
	case "del":
		if len(args) < 3 {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /trigger del <id>"))
			return nil
		}
		id, err := strconv.Atoi(args[2])
		if err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Trigger id must be a number. See /trigger list."))
			return nil
		}
		if err := b.storage.DeleteTrigger(system.ID, uint(id)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				b.sendMessage(ctx, chatID, escapeMarkdownV2("Trigger not found. Make sure you used the correct id."))
				return nil
			}
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to delete the trigger."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Trigger deleted."))
	default:
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /trigger add <member> prefix|suffix <text> | /trigger list | /trigger del <id>"))
	}
	return nil
}

func (b *Bot) frontHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/front")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 2 {
		front, err := b.storage.Front(system.ID)
		if err != nil || front == nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Nobody is fronting. Use /front <member> to set the front."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("'%s' is fronting.", front.DisplayName)))
		return nil
	}

	if args[1] == "clear" {
		if err := b.storage.ClearFront(system.ID); err != nil {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to clear the front."))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Front cleared."))
		return nil
	}

	member, ok := b.memberByAlias(ctx, system, args[1], chatID)
	if !ok {
		return nil
	}

	if err := b.storage.SetFront(system.ID, member.ID); err != nil {
		if errors.Is(err, storage.ErrInvalid) {
			b.sendMessage(ctx, chatID, escapeMarkdownV2(
				fmt.Sprintf("'%s' is disabled and cannot front. Enable them with /member enable.", member.DisplayName)))
			return nil
		}
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to set the front."))
		return nil
	}
	b.sendMessage(ctx, chatID, escapeMarkdownV2(fmt.Sprintf("'%s' is now fronting.", member.DisplayName)))
	return nil
}

func (b *Bot) editHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/edit")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	messageID, ok := repliedMessageID(update)
	if !ok {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Reply to a proxied message with /edit <new text>."))
		return nil
	}

	parts := strings.SplitN(update.Message.Text, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /edit <new text>"))
		return nil
	}

	if err := b.proxy.Edit(ctx, system.ID, messageID, parts[1]); err != nil {
		if errors.Is(err, proxy.ErrNotOwned) {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("This message was not sent by a member of your system."))
			return nil
		}
		slog.Error("bot: Failed to edit message", "error", err, "system_id", system.ID, "message_id", messageID)
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to edit the message. Try again later."))
		return nil
	}
	return nil
}

func (b *Bot) reproxyHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/reproxy")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	messageID, ok := repliedMessageID(update)
	if !ok {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Reply to a proxied message with /reproxy <member>."))
		return nil
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 2 {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Usage: /reproxy <member>"))
		return nil
	}
	member, ok := b.memberByAlias(ctx, system, args[1], chatID)
	if !ok {
		return nil
	}

	if err := b.proxy.Reproxy(ctx, system.ID, messageID, member.ID); err != nil {
		switch {
		case errors.Is(err, proxy.ErrNotOwned):
			b.sendMessage(ctx, chatID, escapeMarkdownV2("This message was not sent by a member of your system."))
		case errors.Is(err, storage.ErrInvalid):
			b.sendMessage(ctx, chatID, escapeMarkdownV2(
				fmt.Sprintf("'%s' cannot be proxied to. Are they disabled?", member.DisplayName)))
		default:
			slog.Error("bot: Failed to reproxy message", "error", err, "system_id", system.ID, "message_id", messageID)
			b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to reproxy the message. Try again later."))
		}
		return nil
	}
	return nil
}

func (b *Bot) deleteHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("/del")
	chatID := update.Message.Chat.ID

	system, err := b.systemFor(update)
	if err != nil {
		return nil
	}

	messageID, ok := repliedMessageID(update)
	if !ok {
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Reply to a proxied message with /del."))
		return nil
	}

	if err := b.proxy.Delete(ctx, system.ID, messageID); err != nil {
		if errors.Is(err, proxy.ErrNotOwned) {
			b.sendMessage(ctx, chatID, escapeMarkdownV2("This message was not sent by a member of your system."))
			return nil
		}
		slog.Error("bot: Failed to delete message", "error", err, "system_id", system.ID, "message_id", messageID)
		b.sendMessage(ctx, chatID, escapeMarkdownV2("Failed to delete the message. Try again later."))
		return nil
	}

	// Also drop the command message so the chat stays clean
	_ = b.api.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: update.Message.MessageID,
	})
	return nil
}

// messageHandler proxies plain messages through the resolved member identity
func (b *Bot) messageHandler(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message == nil || message.From == nil || message.Text == "" {
		return nil
	}
	if strings.HasPrefix(message.Text, "/") {
		return nil
	}

	system, err := b.storage.SystemByOwner(message.From.ID)
	if err != nil {
		return nil
	}

	rawMessageID := encodeMessageID(message.Chat.ID, message.MessageID)
	posted, err := b.proxy.Post(ctx, system.ID, message.Text, rawMessageID)
	if err != nil {
		if errors.Is(err, proxy.ErrNotProxied) {
			slog.Debug("bot: Message not proxied", "system_id", system.ID)
			return nil
		}
		slog.Error("bot: Failed to proxy message", "error", err, "system_id", system.ID)
		return nil
	}

	slog.Info("bot: Message proxied", "system_id", system.ID,
		"member_id", posted.Member.ID, "message_id", posted.MessageID)
	return nil
}
