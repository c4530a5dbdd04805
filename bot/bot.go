package bot

import (
	"context"
	"errors"
	"log/slog"

	"telegram-plural-proxy-bot/proxy"
	"telegram-plural-proxy-bot/storage"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

var (
	ErrGetMe          = errors.New("cannot retrieve api user")
	ErrUpdatesChannel = errors.New("cannot get updates channel")
	ErrHandlerInit    = errors.New("cannot initialize handler")
)

type Bot struct {
	api     *telego.Bot
	storage *storage.Storage
	proxy   *proxy.Coordinator
}

func New(token string, store *storage.Storage) (*Bot, error) {
	api, err := telego.NewBot(token, telego.WithDefaultLogger(false, true))
	if err != nil {
		slog.Error("bot: Failed to initialize Telegram client", "error", err)
		return nil, err
	}

	return &Bot{
		api:     api,
		storage: store,
		proxy:   proxy.NewCoordinator(store, NewTransport(api)),
	}, nil
}

// Run starts long polling and blocks until the context is cancelled
func (b *Bot) Run(ctx context.Context) error {
	botUser, err := b.api.GetMe(ctx)
	if err != nil {
		slog.Error("bot: Cannot retrieve api user", "error", err)
		return ErrGetMe
	}

	slog.Info("bot: Running as", "id", botUser.ID, "username", botUser.Username, "is_bot", botUser.IsBot)

	updates, err := b.api.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		slog.Error("bot: Cannot get update channel", "error", err)
		return ErrUpdatesChannel
	}

	bh, err := th.NewBotHandler(b.api, updates)
	if err != nil {
		slog.Error("bot: Cannot initialize bot handler", "error", err)
		return ErrHandlerInit
	}

	defer bh.Stop()

	bh.Use(b.systemFillMiddleware)

	bh.Handle(b.startHandler, th.CommandEqual("start"))
	bh.Handle(b.helpHandler, th.CommandEqual("help"))
	bh.Handle(b.systemHandler, th.CommandEqual("system"))
	bh.Handle(b.memberHandler, th.CommandEqual("member"))
	bh.Handle(b.aliasHandler, th.CommandEqual("alias"))
	bh.Handle(b.triggerHandler, th.CommandEqual("trigger"))
	bh.Handle(b.frontHandler, th.CommandEqual("front"))
	bh.Handle(b.editHandler, th.CommandEqual("edit"))
	bh.Handle(b.reproxyHandler, th.CommandEqual("reproxy"))
	bh.Handle(b.deleteHandler, th.CommandEqual("del"))
	bh.Handle(b.messageHandler, th.AnyMessage())

	return bh.Start()
}
