package channel

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrEditNotSupported is returned when the channel cannot edit or delete sent messages.
var ErrEditNotSupported = errors.New("channel does not support message editing")

// Replier sends replies into the conversation an inbound message came from.
type Replier struct {
	cfg    ChannelConfig
	target string
	reply  *ReplyRef
	sender Sender
	editor MessageEditor
}

// NewReplier binds sender and the optional editor to one conversation target.
// Replies quote replyTo when it is not empty.
func NewReplier(cfg ChannelConfig, target, replyTo string, sender Sender, editor MessageEditor) *Replier {
	r := &Replier{
		cfg:    cfg,
		target: strings.TrimSpace(target),
		sender: sender,
		editor: editor,
	}
	if id := strings.TrimSpace(replyTo); id != "" {
		r.reply = &ReplyRef{Target: r.target, MessageID: id}
	}
	return r
}

// SendText sends a text reply and returns the sent message id.
func (r *Replier) SendText(ctx context.Context, text string) (string, error) {
	return r.sender.Send(ctx, r.cfg, OutboundMessage{
		Target:  r.target,
		Message: Message{Text: text, Reply: r.reply},
	})
}

// SendDocument uploads the local file at path as a document named filename.
func (r *Replier) SendDocument(ctx context.Context, path, filename string) error {
	if strings.TrimSpace(filename) == "" {
		filename = filepath.Base(path)
	}
	_, err := r.sender.Send(ctx, r.cfg, OutboundMessage{
		Target: r.target,
		Message: Message{
			Reply: r.reply,
			Attachments: []Attachment{{
				Type: AttachmentFile,
				Path: path,
				Name: filename,
			}},
		},
	})
	return err
}

// EditText replaces the text of a previously sent message.
func (r *Replier) EditText(ctx context.Context, messageID, text string) error {
	if r.editor == nil {
		return ErrEditNotSupported
	}
	return r.editor.Update(ctx, r.cfg, r.target, messageID, Message{Text: text})
}

// Delete removes a previously sent message.
func (r *Replier) Delete(ctx context.Context, messageID string) error {
	if r.editor == nil {
		return ErrEditNotSupported
	}
	return r.editor.Unsend(ctx, r.cfg, r.target, messageID)
}

// BoundFileOpener exposes a FileOpener for one channel config.
type BoundFileOpener struct {
	opener FileOpener
	cfg    ChannelConfig
}

// BindFileOpener fixes cfg so callers can open files by platform key alone.
func BindFileOpener(opener FileOpener, cfg ChannelConfig) *BoundFileOpener {
	return &BoundFileOpener{opener: opener, cfg: cfg}
}

// OpenFile opens the file behind platformKey.
func (b *BoundFileOpener) OpenFile(ctx context.Context, platformKey string) (io.ReadCloser, error) {
	return b.opener.OpenFile(ctx, b.cfg, platformKey)
}
