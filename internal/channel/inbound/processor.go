// Package inbound routes channel messages to bot commands or the file pipeline.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/memohai/metaeraser/internal/channel"
	"github.com/memohai/metaeraser/internal/flow"
	"github.com/memohai/metaeraser/internal/media"
	"github.com/memohai/metaeraser/internal/messages"
	"github.com/memohai/metaeraser/internal/policy"
)

const DefaultMaxConcurrent = 4

// Pipeline runs one file request to completion.
type Pipeline interface {
	Handle(ctx context.Context, ev flow.Event) flow.Result
}

// Processor implements channel.InboundProcessor.
type Processor struct {
	pipeline Pipeline
	catalog  *messages.Catalog
	limits   policy.Table
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// NewProcessor creates a Processor. maxConcurrent caps simultaneous file
// pipelines; zero or less means unbounded.
func NewProcessor(log *slog.Logger, pipeline Pipeline, catalog *messages.Catalog, limits policy.Table, maxConcurrent int) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if catalog == nil {
		catalog = messages.Default()
	}
	if limits == nil {
		limits = policy.DefaultTable()
	}
	p := &Processor{
		pipeline: pipeline,
		catalog:  catalog,
		limits:   limits,
		logger:   log.With(slog.String("component", "inbound")),
	}
	if maxConcurrent > 0 {
		p.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return p
}

// HandleInbound answers /start and /help directly and sends everything else
// through the pipeline.
func (p *Processor) HandleInbound(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, replier *channel.Replier) error {
	if replier == nil {
		return fmt.Errorf("replier is required")
	}
	identity := identityFor(ctx, msg)
	log := p.logger.With(
		slog.String("config_id", cfg.ID),
		slog.String("bot_id", cfg.BotID),
		slog.String("request_id", identity.RequestID),
	)

	switch parseCommand(msg.Message.Text) {
	case "start":
		return p.reply(ctx, replier, p.catalog.Greeting(identity.Name()))
	case "help":
		return p.reply(ctx, replier, p.catalog.Usage(p.limits))
	}

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			log.Warn("pipeline slot wait aborted", slog.Any("error", err))
			return err
		}
		defer p.sem.Release(1)
	}
	res := p.pipeline.Handle(ctx, flow.Event{
		RequestID:  identity.RequestID,
		Upload:     uploadFromMessage(msg.Message),
		SenderID:   identity.SubjectID,
		SenderName: identity.Name(),
		Replier:    replier,
	})
	attrs := []any{slog.String("state", res.State.String())}
	if !msg.ReceivedAt.IsZero() {
		attrs = append(attrs, slog.Duration("since_received", time.Since(msg.ReceivedAt)))
	}
	log.Debug("pipeline finished", attrs...)
	return nil
}

func (p *Processor) reply(ctx context.Context, replier *channel.Replier, text string) error {
	if _, err := replier.SendText(ctx, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// parseCommand returns the lowercased bot command in text without its
// leading slash or @botname suffix, or "" when text is not a command.
func parseCommand(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return ""
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return ""
	}
	command, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(command)
}

var attachmentKinds = map[channel.AttachmentType]media.Kind{
	channel.AttachmentImage:   media.KindPhoto,
	channel.AttachmentVideo:   media.KindVideo,
	channel.AttachmentAudio:   media.KindAudio,
	channel.AttachmentFile:    media.KindDocument,
	channel.AttachmentVoice:   media.KindVoice,
	channel.AttachmentGIF:     media.KindAnimation,
	channel.AttachmentSticker: media.KindSticker,
}

// uploadFromMessage converts the first attachment of msg, or returns nil when
// the message carries no file.
func uploadFromMessage(msg channel.Message) *media.Upload {
	for _, att := range msg.Attachments {
		if !att.HasReference() {
			continue
		}
		kind, ok := attachmentKinds[att.Type]
		if !ok {
			kind = media.Kind(att.Type)
		}
		return &media.Upload{
			Kind:     kind,
			Handle:   att.PlatformKey,
			UniqueID: att.UniqueID,
			Name:     att.Name,
			Mime:     att.Mime,
			Size:     att.Size,
			Caption:  att.Caption,
		}
	}
	return nil
}
