package proxy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"telegram-plural-proxy-bot/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	id       string
	identity MemberIdentity
	text     string
}

// fakeTransport records every call; message ids are generated sequentially
type fakeTransport struct {
	nextID   int
	sent     []sentMessage
	edited   map[string]string
	deleted  []string
	failSend bool
	failEdit bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{edited: map[string]string{}}
}

func (f *fakeTransport) SendAs(_ context.Context, _ string, identity MemberIdentity, text string) (string, error) {
	if f.failSend {
		return "", errors.New("send failed")
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.sent = append(f.sent, sentMessage{id: id, identity: identity, text: text})
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, _, messageID string, _ MemberIdentity, text string) error {
	if f.failEdit {
		return errors.New("edit failed")
	}
	f.edited[messageID] = text
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	store     *storage.Storage
	transport *fakeTransport
	proxy     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)

	transport := newFakeTransport()
	return &fixture{
		store:     store,
		transport: transport,
		proxy:     NewCoordinator(store, transport),
	}
}

func (f *fixture) createSystem(t *testing.T, ownerID int64, name string) *storage.System {
	t.Helper()

	system, err := f.store.FindOrCreateSystem(ownerID, name)
	require.NoError(t, err)
	return system
}

func (f *fixture) createMember(t *testing.T, systemID uint, name string) *storage.Member {
	t.Helper()

	member := storage.Member{FullName: name, DisplayName: name}
	require.NoError(t, f.store.CreateMember(systemID, &member))
	return &member
}

func TestPostProxiesTriggeredMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	sam := f.createMember(t, system.ID, "Sam")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "raw-1")
	require.NoError(t, err)

	assert.Equal(t, sam.ID, posted.Member.ID)
	assert.Equal(t, "hello", posted.Text)
	assert.Equal(t, "Sam", f.transport.lastSent(t).identity.DisplayName)

	// The original raw message is removed once the proxy message is logged
	assert.Equal(t, []string{"raw-1"}, f.transport.deleted)

	log, err := f.store.MessageByID(posted.MessageID)
	require.NoError(t, err)
	assert.Equal(t, sam.ID, log.MemberID)
}

func TestPostScenarioSwitchesFront(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	require.NoError(t, f.store.SetSwitchOnTrigger(system.ID, true))
	sam := f.createMember(t, system.ID, "Sam")
	rin := f.createMember(t, system.ID, "Rin")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)
	_, err = f.store.CreateTrigger(system.ID, rin.ID, ":r", storage.TriggerSuffix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)
	assert.Equal(t, sam.ID, posted.Member.ID)
	assert.Equal(t, "hello", posted.Text)

	front, err := f.store.Front(system.ID)
	require.NoError(t, err)
	require.NotNil(t, front)
	assert.Equal(t, sam.ID, front.ID)

	posted, err = f.proxy.Post(ctx, system.ID, "hi :r", "")
	require.NoError(t, err)
	assert.Equal(t, rin.ID, posted.Member.ID)
	assert.Equal(t, "hi ", posted.Text)

	front, err = f.store.Front(system.ID)
	require.NoError(t, err)
	require.NotNil(t, front)
	assert.Equal(t, rin.ID, front.ID)

	// No trigger: the current front speaks, and stays fronting
	posted, err = f.proxy.Post(ctx, system.ID, "just text", "")
	require.NoError(t, err)
	assert.Equal(t, rin.ID, posted.Member.ID)
	assert.Equal(t, "just text", posted.Text)

	front, err = f.store.Front(system.ID)
	require.NoError(t, err)
	require.NotNil(t, front)
	assert.Equal(t, rin.ID, front.ID)
}

func TestPostWithoutMatchOrFrontIsNotProxied(t *testing.T) {
	f := newFixture(t)

	system := f.createSystem(t, 1, "Alex")
	f.createMember(t, system.ID, "Sam")

	_, err := f.proxy.Post(context.Background(), system.ID, "just text", "raw-1")
	require.ErrorIs(t, err, ErrNotProxied)
	assert.Empty(t, f.transport.sent)
	assert.Empty(t, f.transport.deleted)
}

func TestPostSendFailureWritesNothing(t *testing.T) {
	f := newFixture(t)

	system := f.createSystem(t, 1, "Alex")
	require.NoError(t, f.store.SetSwitchOnTrigger(system.ID, true))
	sam := f.createMember(t, system.ID, "Sam")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	f.transport.failSend = true
	_, err = f.proxy.Post(context.Background(), system.ID, "s: hello", "raw-1")
	require.ErrorIs(t, err, ErrTransport)

	// No log row, no front switch, no deletion of the original
	front, err := f.store.Front(system.ID)
	require.NoError(t, err)
	assert.Nil(t, front)
	assert.Empty(t, f.transport.deleted)
}

func TestPostSentButUnloggedIsInconsistent(t *testing.T) {
	f := newFixture(t)

	system := f.createSystem(t, 1, "Alex")
	sam := f.createMember(t, system.ID, "Sam")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	// Occupy the id the transport will hand out, so the log insert after a
	// confirmed send collides and the message ends up visible but unlogged
	require.NoError(t, f.store.LogMessage("msg-1", sam.ID, "squatter"))

	_, err = f.proxy.Post(context.Background(), system.ID, "s: hello", "")
	require.ErrorIs(t, err, ErrInconsistent)
	assert.Len(t, f.transport.sent, 1)

	// The earlier binding survives
	log, err := f.store.MessageByID("msg-1")
	require.NoError(t, err)
	assert.Equal(t, "squatter", log.Text)
}

func TestPostEditEditKeepsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	sam := f.createMember(t, system.ID, "Sam")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)

	require.NoError(t, f.proxy.Edit(ctx, system.ID, posted.MessageID, "hello there"))
	require.NoError(t, f.proxy.Edit(ctx, system.ID, posted.MessageID, "hello again"))

	assert.Equal(t, "hello again", f.transport.edited[posted.MessageID])

	log, err := f.store.MessageByID(posted.MessageID)
	require.NoError(t, err)
	assert.Equal(t, sam.ID, log.MemberID)
	assert.Equal(t, "hello again", log.Text)
}

func TestEditByOtherSystemIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	other := f.createSystem(t, 2, "Other")
	sam := f.createMember(t, system.ID, "Sam")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)

	err = f.proxy.Edit(ctx, other.ID, posted.MessageID, "hijacked")
	require.ErrorIs(t, err, ErrNotOwned)
	assert.Empty(t, f.transport.edited)
}

func TestReproxyRewritesLogRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	sam := f.createMember(t, system.ID, "Sam")
	rin := f.createMember(t, system.ID, "Rin")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)

	require.NoError(t, f.proxy.Reproxy(ctx, system.ID, posted.MessageID, rin.ID))

	// Sent again under the new identity with the same text
	resent := f.transport.lastSent(t)
	assert.Equal(t, "Rin", resent.identity.DisplayName)
	assert.Equal(t, "hello", resent.text)

	// The old external message is gone and its id no longer resolves
	assert.Contains(t, f.transport.deleted, posted.MessageID)
	_, err = f.store.MessageByID(posted.MessageID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	log, err := f.store.MessageByID(resent.id)
	require.NoError(t, err)
	assert.Equal(t, rin.ID, log.MemberID)
}

func TestReproxyToForeignMemberFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	other := f.createSystem(t, 2, "Other")
	sam := f.createMember(t, system.ID, "Sam")
	kai := f.createMember(t, other.ID, "Kai")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)

	err = f.proxy.Reproxy(ctx, system.ID, posted.MessageID, kai.ID)
	require.ErrorIs(t, err, storage.ErrInvalid)

	// The original row is intact
	log, err := f.store.MessageByID(posted.MessageID)
	require.NoError(t, err)
	assert.Equal(t, sam.ID, log.MemberID)
}

func TestReproxyToDisabledMemberFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	sam := f.createMember(t, system.ID, "Sam")
	rin := f.createMember(t, system.ID, "Rin")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)
	require.NoError(t, f.store.SetMemberEnabled(system.ID, rin.ID, false))

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)

	err = f.proxy.Reproxy(ctx, system.ID, posted.MessageID, rin.ID)
	require.ErrorIs(t, err, storage.ErrInvalid)

	log, err := f.store.MessageByID(posted.MessageID)
	require.NoError(t, err)
	assert.Equal(t, sam.ID, log.MemberID)
}

func TestDeleteTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	system := f.createSystem(t, 1, "Alex")
	sam := f.createMember(t, system.ID, "Sam")
	_, err := f.store.CreateTrigger(system.ID, sam.ID, "s:", storage.TriggerPrefix)
	require.NoError(t, err)

	posted, err := f.proxy.Post(ctx, system.ID, "s: hello", "")
	require.NoError(t, err)

	require.NoError(t, f.proxy.Delete(ctx, system.ID, posted.MessageID))
	assert.Contains(t, f.transport.deleted, posted.MessageID)

	err = f.proxy.Delete(ctx, system.ID, posted.MessageID)
	require.ErrorIs(t, err, ErrNotOwned)
}
