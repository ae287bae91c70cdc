package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/metaeraser/internal/channel"
)

const (
	telegramMaxMessageLength = 4096
	telegramPollTimeout      = 30

	DefaultRequestTimeout = 5 * time.Minute
)

// Options tunes the HTTP clients used for Bot API calls and file downloads.
type Options struct {
	// RequestTimeout bounds every Bot API call, uploads included.
	RequestTimeout time.Duration
	// DownloadTimeout bounds one file download.
	DownloadTimeout time.Duration
}

// TelegramAdapter implements channel.Receiver, channel.Sender,
// channel.MessageEditor and channel.FileOpener for Telegram.
type TelegramAdapter struct {
	logger         *slog.Logger
	apiClient      *http.Client
	downloadClient *http.Client
	mu             sync.RWMutex
	bots           map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger, opts Options) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultRequestTimeout
	}
	adapter := &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		// Long polling holds a request open for telegramPollTimeout seconds.
		apiClient:      &http.Client{Timeout: opts.RequestTimeout + telegramPollTimeout*time.Second},
		downloadClient: &http.Client{Timeout: opts.DownloadTimeout},
		bots:           make(map[string]*tgbotapi.BotAPI),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

var getOrCreateBotForTest func(a *TelegramAdapter, cfg Config, configID string) (*tgbotapi.BotAPI, error)

func (a *TelegramAdapter) getOrCreateBot(cfg Config, configID string) (*tgbotapi.BotAPI, error) {
	if getOrCreateBotForTest != nil {
		return getOrCreateBotForTest(a, cfg, configID)
	}
	a.mu.RLock()
	bot, ok := a.bots[cfg.BotToken]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[cfg.BotToken]; ok {
		return bot, nil
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, a.apiClient)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", configID), slog.Any("error", err))
		return nil, classifyTelegramError(err)
	}
	a.bots[cfg.BotToken] = bot
	return bot, nil
}

func (a *TelegramAdapter) botFor(cfg channel.ChannelConfig) (*tgbotapi.BotAPI, error) {
	telegramCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		a.logger.Error("decode config failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	return a.getOrCreateBot(telegramCfg, cfg.ID)
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Connect starts long-polling for Telegram updates and forwards each message
// to handler in its own goroutine.
func (a *TelegramAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	bot, err := a.botFor(cfg)
	if err != nil {
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(updateConfig)
	return a.serveUpdates(ctx, cfg, updates, bot.StopReceivingUpdates, handler), nil
}

// serveUpdates forwards messages from updates to handler, one goroutine per
// message. Stopping the connection cancels the handlers' context and waits,
// bounded by the stop context, until every handler has returned, so request
// cleanup finishes before shutdown completes.
func (a *TelegramAdapter) serveUpdates(ctx context.Context, cfg channel.ChannelConfig, updates tgbotapi.UpdatesChannel, stopReceiving func(), handler channel.InboundHandler) channel.Connection {
	connCtx, cancel := context.WithCancel(ctx)
	var (
		handlers sync.WaitGroup
		loopDone = make(chan struct{})
	)

	go func() {
		defer close(loopDone)
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				if update.Message == nil {
					continue
				}
				msg := buildInboundMessage(cfg, update.Message)
				a.logger.Info(
					"inbound received",
					slog.String("config_id", cfg.ID),
					slog.String("chat_type", msg.Conversation.Type),
					slog.String("chat_id", msg.Conversation.ID),
					slog.String("user_id", msg.Sender.Attribute("user_id")),
					slog.Int("attachments", len(msg.Message.Attachments)),
				)
				handlers.Add(1)
				go func() {
					defer handlers.Done()
					if err := handler(connCtx, cfg, msg); err != nil {
						a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
					}
				}()
			}
		}
	}()

	stop := func(stopCtx context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		stopReceiving()
		cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			<-loopDone
			handlers.Wait()
			// Drain so the library's polling goroutine can exit. The in-flight
			// long poll may take up to telegramPollTimeout to return.
			for range updates {
			}
		}()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
	return channel.NewConnection(cfg, stop)
}

func buildInboundMessage(cfg channel.ChannelConfig, m *tgbotapi.Message) channel.InboundMessage {
	text := strings.TrimSpace(m.Text)
	subjectID, displayName, attrs := resolveTelegramSender(m)
	chatID, chatType := "", ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
		chatType = strings.TrimSpace(m.Chat.Type)
	}
	return channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:          strconv.Itoa(m.MessageID),
			Text:        text,
			Attachments: collectTelegramAttachments(m),
			Reply:       buildTelegramReplyRef(m, chatID),
		},
		ReplyTarget: chatID,
		Sender: channel.Identity{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		Conversation: channel.Conversation{
			ID:   chatID,
			Type: chatType,
		},
		ReceivedAt: time.Unix(int64(m.Date), 0).UTC(),
	}
}

func resolveTelegramSender(msg *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if msg == nil {
		return "", "", attrs
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		userID := strconv.FormatInt(msg.From.ID, 10)
		username := strings.TrimSpace(msg.From.UserName)
		attrs["user_id"] = userID
		if username != "" {
			attrs["username"] = username
		}
		displayName := username
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
		return userID, displayName, attrs
	}
	if msg.SenderChat != nil {
		senderChatID := strconv.FormatInt(msg.SenderChat.ID, 10)
		attrs["sender_chat_id"] = senderChatID
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = strings.TrimSpace(msg.SenderChat.UserName)
		}
		return senderChatID, displayName, attrs
	}
	return "", "", attrs
}

func buildTelegramReplyRef(msg *tgbotapi.Message, chatID string) *channel.ReplyRef {
	if msg == nil || msg.ReplyToMessage == nil {
		return nil
	}
	return &channel.ReplyRef{
		MessageID: strconv.Itoa(msg.ReplyToMessage.MessageID),
		Target:    strings.TrimSpace(chatID),
	}
}

// collectTelegramAttachments maps the file carried by a message to channel
// attachments. Telegram also fills Document for animations, so an animation
// is reported once, as a gif.
func collectTelegramAttachments(msg *tgbotapi.Message) []channel.Attachment {
	if msg == nil {
		return nil
	}
	attachments := make([]channel.Attachment, 0, 1)
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentImage, photo.FileID, photo.FileUniqueID, "", "", int64(photo.FileSize)))
	}
	if msg.Animation != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentGIF, msg.Animation.FileID, msg.Animation.FileUniqueID, msg.Animation.FileName, msg.Animation.MimeType, int64(msg.Animation.FileSize)))
	} else if msg.Document != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentFile, msg.Document.FileID, msg.Document.FileUniqueID, msg.Document.FileName, msg.Document.MimeType, int64(msg.Document.FileSize)))
	}
	if msg.Audio != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentAudio, msg.Audio.FileID, msg.Audio.FileUniqueID, msg.Audio.FileName, msg.Audio.MimeType, int64(msg.Audio.FileSize)))
	}
	if msg.Voice != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentVoice, msg.Voice.FileID, msg.Voice.FileUniqueID, "", msg.Voice.MimeType, int64(msg.Voice.FileSize)))
	}
	if msg.Video != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentVideo, msg.Video.FileID, msg.Video.FileUniqueID, msg.Video.FileName, msg.Video.MimeType, int64(msg.Video.FileSize)))
	}
	if msg.Sticker != nil {
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentSticker, msg.Sticker.FileID, msg.Sticker.FileUniqueID, "", "", int64(msg.Sticker.FileSize)))
	}
	caption := strings.TrimSpace(msg.Caption)
	if caption != "" {
		for i := range attachments {
			attachments[i].Caption = caption
		}
	}
	return attachments
}

func buildTelegramAttachment(attType channel.AttachmentType, fileID, uniqueID, name, mime string, size int64) channel.Attachment {
	return channel.Attachment{
		Type:        attType,
		PlatformKey: strings.TrimSpace(fileID),
		UniqueID:    strings.TrimSpace(uniqueID),
		Name:        strings.TrimSpace(name),
		Mime:        strings.TrimSpace(mime),
		Size:        size,
	}
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// OpenFile resolves a file id through getFile and streams it over HTTP.
func (a *TelegramAdapter) OpenFile(ctx context.Context, cfg channel.ChannelConfig, platformKey string) (io.ReadCloser, error) {
	fileID := strings.TrimSpace(platformKey)
	if fileID == "" {
		return nil, fmt.Errorf("telegram file id is required")
	}
	bot, err := a.botFor(cfg)
	if err != nil {
		return nil, err
	}
	downloadURL, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve telegram file url: %w", classifyTelegramError(err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", classifyTelegramError(err))
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		statusErr := fmt.Errorf("download file status: %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			statusErr = channel.Transient(statusErr)
		}
		return nil, statusErr
	}
	return resp.Body, nil
}

// Send delivers text or a single attachment and returns the sent message id.
func (a *TelegramAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) (string, error) {
	to := strings.TrimSpace(msg.Target)
	if to == "" {
		return "", fmt.Errorf("telegram target is required")
	}
	if msg.Message.IsEmpty() {
		return "", fmt.Errorf("message is required")
	}
	bot, err := a.botFor(cfg)
	if err != nil {
		return "", err
	}
	text := msg.Message.PlainText()
	replyTo := parseReplyToMessageID(msg.Message.Reply)
	var sent tgbotapi.Message
	if len(msg.Message.Attachments) > 0 {
		sent, err = a.sendTelegramAttachment(ctx, bot, to, msg.Message.Attachments[0], text, replyTo)
	} else {
		sent, err = sendTelegramText(ctx, bot, to, text, replyTo)
	}
	if err != nil {
		a.logger.Warn("send failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Update replaces the text of a sent message.
func (a *TelegramAdapter) Update(ctx context.Context, cfg channel.ChannelConfig, target string, messageID string, msg channel.Message) error {
	bot, err := a.botFor(cfg)
	if err != nil {
		return err
	}
	chatID, msgID, err := parseMessageRef(target, messageID)
	if err != nil {
		return err
	}
	return editTelegramMessageText(ctx, bot, chatID, msgID, msg.PlainText())
}

// Unsend deletes a sent message.
func (a *TelegramAdapter) Unsend(ctx context.Context, cfg channel.ChannelConfig, target string, messageID string) error {
	bot, err := a.botFor(cfg)
	if err != nil {
		return err
	}
	chatID, msgID, err := parseMessageRef(target, messageID)
	if err != nil {
		return err
	}
	_, err = withContext(ctx, func() (*tgbotapi.APIResponse, error) {
		return bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID))
	})
	return classifyTelegramError(err)
}

func parseMessageRef(target, messageID string) (int64, int, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram target must be a chat_id")
	}
	msgID, err := strconv.Atoi(strings.TrimSpace(messageID))
	if err != nil {
		return 0, 0, fmt.Errorf("telegram message id must be numeric")
	}
	return chatID, msgID, nil
}

func parseReplyToMessageID(reply *channel.ReplyRef) int {
	if reply == nil {
		return 0
	}
	raw := strings.TrimSpace(reply.MessageID)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

// withContext runs a blocking Bot API call and returns early when ctx ends.
// The call itself is bounded by the adapter's HTTP client timeout.
func withContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := call()
		done <- result{value: value, err: err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func sendTelegramText(ctx context.Context, bot *tgbotapi.BotAPI, target string, text string, replyTo int) (tgbotapi.Message, error) {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("telegram target must be a chat_id")
	}
	message := tgbotapi.NewMessage(chatID, truncateTelegramText(sanitizeTelegramText(text)))
	if replyTo > 0 {
		message.ReplyToMessageID = replyTo
		message.AllowSendingWithoutReply = true
	}
	sent, err := withContext(ctx, func() (tgbotapi.Message, error) { return bot.Send(message) })
	return sent, classifyTelegramError(err)
}

func (a *TelegramAdapter) sendTelegramAttachment(ctx context.Context, bot *tgbotapi.BotAPI, target string, att channel.Attachment, caption string, replyTo int) (tgbotapi.Message, error) {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("telegram target must be a chat_id")
	}
	if strings.TrimSpace(caption) == "" {
		caption = strings.TrimSpace(att.Caption)
	}
	var file tgbotapi.RequestFileData
	switch {
	case strings.TrimSpace(att.Path) != "":
		f, err := os.Open(att.Path)
		if err != nil {
			return tgbotapi.Message{}, fmt.Errorf("open upload: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		name := strings.TrimSpace(att.Name)
		if name == "" {
			name = filepath.Base(att.Path)
		}
		file = tgbotapi.FileReader{Name: name, Reader: f}
	case att.HasReference():
		file = tgbotapi.FileID(att.PlatformKey)
	default:
		return tgbotapi.Message{}, fmt.Errorf("attachment reference is required")
	}
	var chattable tgbotapi.Chattable
	switch att.Type {
	case channel.AttachmentFile, "":
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = caption
		document.ReplyToMessageID = replyTo
		chattable = document
	case channel.AttachmentImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		photo.ReplyToMessageID = replyTo
		chattable = photo
	case channel.AttachmentAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = caption
		audio.ReplyToMessageID = replyTo
		chattable = audio
	case channel.AttachmentVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		video.ReplyToMessageID = replyTo
		chattable = video
	default:
		return tgbotapi.Message{}, fmt.Errorf("unsupported attachment type: %s", att.Type)
	}
	sent, err := withContext(ctx, func() (tgbotapi.Message, error) { return bot.Send(chattable) })
	return sent, classifyTelegramError(err)
}

var sendEditForTest func(bot *tgbotapi.BotAPI, edit tgbotapi.EditMessageTextConfig) error

// editTelegramMessageText sends an edit request. "message is not modified" is
// treated as success; 429 and other errors are classified for the caller.
func editTelegramMessageText(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncateTelegramText(sanitizeTelegramText(text)))
	send := sendEditForTest
	if send == nil {
		send = func(b *tgbotapi.BotAPI, e tgbotapi.EditMessageTextConfig) error {
			_, err := b.Send(e)
			return err
		}
	}
	_, err := withContext(ctx, func() (struct{}, error) { return struct{}{}, send(bot, edit) })
	if err != nil && isTelegramMessageNotModified(err) {
		return nil
	}
	return classifyTelegramError(err)
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength on a valid
// UTF-8 rune boundary, appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	if len(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	limit := telegramMaxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

func isTelegramMessageNotModified(err error) bool {
	apiErr, ok := telegramAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "message is not modified")
}

func isTelegramTooManyRequests(err error) bool {
	apiErr, ok := telegramAPIError(err)
	return ok && apiErr.Code == http.StatusTooManyRequests
}

func getTelegramRetryAfter(err error) time.Duration {
	apiErr, ok := telegramAPIError(err)
	if ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

func telegramAPIError(err error) (tgbotapi.Error, bool) {
	if err == nil {
		return tgbotapi.Error{}, false
	}
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var value tgbotapi.Error
	if errors.As(err, &value) {
		return value, true
	}
	return tgbotapi.Error{}, false
}

// classifyTelegramError marks rate limiting and transport failures so callers
// can tell them apart from permanent API rejections.
func classifyTelegramError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if apiErr, ok := telegramAPIError(err); ok {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return channel.RateLimited(err, getTelegramRetryAfter(err))
		case apiErr.Code >= http.StatusInternalServerError:
			return channel.Transient(err)
		default:
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return channel.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return channel.Transient(err)
	}
	return err
}
