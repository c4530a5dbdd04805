package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"telegram-plural-proxy-bot/storage"
)

// MemberIdentity is what the transport presents externally for a member.
type MemberIdentity struct {
	DisplayName string
	AvatarURL   string
}

// Transport is the chat platform the coordinator posts through. The
// credential is the system's stored chat credential and stays opaque here.
// Edit takes the identity again because some platforms render the identity
// inside the message body and must re-render it on every content change.
type Transport interface {
	SendAs(ctx context.Context, credential string, identity MemberIdentity, text string) (string, error)
	Edit(ctx context.Context, credential, messageID string, identity MemberIdentity, text string) error
	Delete(ctx context.Context, credential, messageID string) error
}

// PostedMessage describes a successfully proxied message.
type PostedMessage struct {
	MessageID string
	Member    *storage.Member
	Text      string
}

// Coordinator orchestrates trigger resolution, fronting switches, transport
// calls and the message log. It holds no locks across transport calls; all
// per-system consistency comes from the storage transactions.
type Coordinator struct {
	store     *storage.Storage
	transport Transport
	retries   int
}

func NewCoordinator(store *storage.Storage, transport Transport) *Coordinator {
	return &Coordinator{
		store:     store,
		transport: transport,
		retries:   3,
	}
}

func identityOf(member *storage.Member) MemberIdentity {
	return MemberIdentity{
		DisplayName: member.DisplayName,
		AvatarURL:   member.AvatarURL,
	}
}

// Post resolves a raw message, sends it under the resolved member's identity,
// records the message log row together with the optional fronting switch in
// one transaction, and finally removes the original raw message. The log row
// is only ever written after the transport confirmed the send.
//
// A transport failure leaves the database untouched and is surfaced as
// ErrTransport for the caller to retry. A log failure after a confirmed send
// is surfaced as ErrInconsistent: the message exists but is unlogged, which
// is recoverable by a manual reproxy or delete.
func (c *Coordinator) Post(ctx context.Context, systemID uint, rawText, rawMessageID string) (*PostedMessage, error) {
	system, err := c.store.System(systemID)
	if err != nil {
		return nil, err
	}
	triggers, err := c.store.Triggers(systemID)
	if err != nil {
		return nil, err
	}

	res := Resolve(system, triggers, system.FrontingMember, rawText)
	if res.Member == nil {
		// No trigger matched and nobody is fronting: the raw account speaks
		// for itself and the message stays as it is.
		return nil, ErrNotProxied
	}

	messageID, err := c.transport.SendAs(ctx, system.Credential, identityOf(res.Member), res.CleanedText)
	if err != nil {
		slog.Error("proxy: Failed to send proxied message", "error", err,
			"system_id", systemID, "member_id", res.Member.ID)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	switchFront := res.Matched && res.SwitchFront
	if err := c.store.ApplyProxyResult(systemID, res.Member.ID, messageID, res.CleanedText, switchFront); err != nil {
		slog.Error("proxy: Message sent but not logged, reconciliation needed", "error", err,
			"system_id", systemID, "member_id", res.Member.ID, "message_id", messageID)
		return nil, fmt.Errorf("%w: %w", ErrInconsistent, err)
	}

	if rawMessageID != "" {
		if err := c.withRetry(ctx, func() error {
			return c.transport.Delete(ctx, system.Credential, rawMessageID)
		}); err != nil {
			slog.Warn("proxy: Failed to delete original message", "error", err,
				"system_id", systemID, "message_id", rawMessageID)
		}
	}

	return &PostedMessage{
		MessageID: messageID,
		Member:    res.Member,
		Text:      res.CleanedText,
	}, nil
}

// Edit changes the content of an already proxied message in place.
// The owner does not change, so the log row only updates its stored text.
func (c *Coordinator) Edit(ctx context.Context, systemID uint, messageID, newText string) error {
	log, err := c.owned(systemID, messageID)
	if err != nil {
		return err
	}
	system, err := c.store.System(systemID)
	if err != nil {
		return err
	}

	err = c.withRetry(ctx, func() error {
		return c.transport.Edit(ctx, system.Credential, messageID, identityOf(&log.Member), newText)
	})
	if err != nil {
		slog.Error("proxy: Failed to edit proxied message", "error", err,
			"system_id", systemID, "message_id", messageID)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := c.store.UpdateMessageText(messageID, newText); err != nil {
		slog.Error("proxy: Message edited but log text stale, reconciliation needed", "error", err,
			"system_id", systemID, "message_id", messageID)
		return fmt.Errorf("%w: %w", ErrInconsistent, err)
	}
	return nil
}

// Reproxy re-attributes an already proxied message to another member of the
// same system by sending it again under the new identity and deleting the
// old message. The log row is rewritten because the external message id is
// not stable across a delete-and-resend.
func (c *Coordinator) Reproxy(ctx context.Context, systemID uint, messageID string, newMemberID uint) error {
	log, err := c.owned(systemID, messageID)
	if err != nil {
		return err
	}

	member, err := c.store.Member(systemID, newMemberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: member %d does not belong to system %d",
				storage.ErrInvalid, newMemberID, systemID)
		}
		return err
	}
	if !member.Enabled {
		return fmt.Errorf("%w: member %d is disabled", storage.ErrInvalid, newMemberID)
	}

	system, err := c.store.System(systemID)
	if err != nil {
		return err
	}

	newMessageID, err := c.transport.SendAs(ctx, system.Credential, identityOf(member), log.Text)
	if err != nil {
		slog.Error("proxy: Failed to re-send message for reproxy", "error", err,
			"system_id", systemID, "message_id", messageID)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := c.store.RelogMessage(messageID, newMessageID, member.ID); err != nil {
		slog.Error("proxy: Reproxied message not relogged, reconciliation needed", "error", err,
			"system_id", systemID, "old_message_id", messageID, "new_message_id", newMessageID)
		return fmt.Errorf("%w: %w", ErrInconsistent, err)
	}

	// The old message is already unlogged, so a failure here only leaves a
	// stray visible message behind.
	if err := c.withRetry(ctx, func() error {
		return c.transport.Delete(ctx, system.Credential, messageID)
	}); err != nil {
		slog.Warn("proxy: Failed to delete reproxied original", "error", err,
			"system_id", systemID, "message_id", messageID)
	}
	return nil
}

// Delete removes a proxied message and its log row. A second delete of the
// same id fails with ErrNotOwned since the row is gone.
func (c *Coordinator) Delete(ctx context.Context, systemID uint, messageID string) error {
	if _, err := c.owned(systemID, messageID); err != nil {
		return err
	}
	system, err := c.store.System(systemID)
	if err != nil {
		return err
	}

	err = c.withRetry(ctx, func() error {
		return c.transport.Delete(ctx, system.Credential, messageID)
	})
	if err != nil {
		slog.Error("proxy: Failed to delete proxied message", "error", err,
			"system_id", systemID, "message_id", messageID)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return c.store.ForgetMessage(messageID)
}

// owned loads the log row for a message and checks it belongs to the system
func (c *Coordinator) owned(systemID uint, messageID string) (*storage.MessageLog, error) {
	log, err := c.store.MessageByID(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotOwned
		}
		return nil, err
	}
	if log.Member.SystemID != systemID {
		return nil, ErrNotOwned
	}
	return log, nil
}

// withRetry repeats an idempotent transport call a bounded number of times
func (c *Coordinator) withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; attempt < c.retries; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}
