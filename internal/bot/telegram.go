package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/sources"
	"shorts-relay/internal/uploaders"
)

const (
	ackText         = "Downloading and uploading the Short. This may take a few minutes..."
	failurePrefix   = "Failed to upload the Short: "
	maxMessageRunes = 4096
	errorsTailLines = 40
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type linkProcessor interface {
	Process(ctx context.Context, videoID string) (*uploaders.Report, error)
}

type Config struct {
	Token      string
	ChannelID  int64
	ErrorsPath string
	// Platforms is shown by /status.
	Platforms []string
}

// TelegramBot watches one channel or chat for Shorts links and relays each of them.
type TelegramBot struct {
	api   *tgbotapi.BotAPI
	tg    sender
	relay linkProcessor
	cfg   Config
	log   *logging.Logger

	wg         sync.WaitGroup
	inFlight   atomic.Int64
	cancelFunc context.CancelFunc
	readStats  func() resourceStats
}

func NewTelegramBot(cfg Config, relay linkProcessor, log *logging.Logger) (*TelegramBot, error) {
	if cfg.Token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	b := newBot(api, cfg, relay, log)
	b.api = api
	return b, nil
}

func newBot(tg sender, cfg Config, relay linkProcessor, log *logging.Logger) *TelegramBot {
	return &TelegramBot{tg: tg, relay: relay, cfg: cfg, log: log, readStats: readRuntimeStats}
}

// Run long-polls until ctx is done, then waits for in-flight links to finish.
func (b *TelegramBot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.cancelFunc = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := b.api.GetUpdatesChan(u)
	b.log.Infof("telegram bot started as @%s, watching chat %d", b.api.Self.UserName, b.cfg.ChannelID)

	go b.runMemoryWatcher(ctx)

	b.serve(ctx, updates)
	b.api.StopReceivingUpdates()
	return nil
}

func (b *TelegramBot) serve(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.log.Infof("telegram bot: stopping, waiting for in-flight uploads")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *TelegramBot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.ChannelPost
	if msg == nil {
		msg = upd.Message
	}
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID != b.cfg.ChannelID {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	videoID, ok := sources.ExtractVideoID(text)
	if !ok {
		return
	}

	b.log.Infof("telegram bot: message %d in %d links %s", msg.MessageID, msg.Chat.ID, sources.CanonicalURL(videoID))
	b.reply(msg.Chat.ID, msg.MessageID, ackText)

	b.wg.Add(1)
	b.inFlight.Add(1)
	go func(chatID int64, msgID int) {
		defer b.wg.Done()
		defer b.inFlight.Add(-1)
		b.handlePublish(ctx, chatID, msgID, videoID)
	}(msg.Chat.ID, msg.MessageID)
}

func (b *TelegramBot) handlePublish(ctx context.Context, chatID int64, msgID int, videoID string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("handlePublish: %s panicked: %v", videoID, r)
			b.reply(chatID, msgID, failurePrefix+fmt.Sprint(r))
		}
	}()

	report, err := b.relay.Process(ctx, videoID)
	if err != nil {
		b.log.Errorf("handlePublish: %s: %v", videoID, err)
		b.reply(chatID, msgID, failurePrefix+err.Error())
		return
	}
	b.reply(chatID, msgID, report.Text())
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		b.cmdHelp(chatID)
	case "errors":
		b.cmdErrors(chatID)
	case "status":
		b.cmdStatus(chatID)
	}
}

func (b *TelegramBot) cmdHelp(chatID int64) {
	b.replyText(chatID, `Post a YouTube Shorts link (youtube.com/shorts/<id> or youtu.be/<id>) and it is republished to every enabled platform.

/status shows enabled platforms
/errors shows the last lines of errors.log`)
}

func (b *TelegramBot) cmdStatus(chatID int64) {
	if len(b.cfg.Platforms) == 0 {
		b.replyText(chatID, "No upload platforms enabled.")
		return
	}
	b.replyText(chatID, "Enabled platforms: "+strings.Join(b.cfg.Platforms, ", "))
}

func (b *TelegramBot) cmdErrors(chatID int64) {
	lines, err := TailLastNLines(b.cfg.ErrorsPath, errorsTailLines)
	if err != nil && !os.IsNotExist(err) {
		b.log.Errorf("read errors.log: %v", err)
		b.replyText(chatID, "Could not read errors.log")
		return
	}
	if len(lines) == 0 {
		b.replyText(chatID, "errors.log is empty")
		return
	}
	b.replyText(chatID, strings.Join(lines, "\n"))
}

func (b *TelegramBot) replyText(chatID int64, text string) int {
	return b.reply(chatID, 0, text)
}

func (b *TelegramBot) reply(chatID int64, replyTo int, text string) int {
	m := tgbotapi.NewMessage(chatID, truncateMessage(text))
	m.ReplyToMessageID = replyTo
	m.DisableWebPagePreview = true
	sent, err := b.tg.Send(m)
	if err != nil {
		b.log.Errorf("telegram send to %d: %v", chatID, err)
		return 0
	}
	return sent.MessageID
}

// truncateMessage cuts s to Telegram's message limit.
func truncateMessage(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageRunes {
		return s
	}
	return string(r[:maxMessageRunes-1]) + "…"
}
