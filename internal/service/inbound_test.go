package service

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/security"
	"flowmail/backend/internal/storage/memory"
)

type inboundFixture struct {
	store    *memory.Store
	objects  *memObjects
	notifier *recordingNotifier
	svc      *InboundService
	domain   *domain.Domain
	address  *domain.Address
}

func newInboundFixture(t *testing.T) *inboundFixture {
	t.Helper()
	store := memory.NewStore()
	objects := newMemObjects()
	notifier := &recordingNotifier{}
	d := seedDomain(t, store, "example.com")
	a := seedAddress(t, store, d, "info")

	return &inboundFixture{
		store:    store,
		objects:  objects,
		notifier: notifier,
		svc:      NewInboundService(store, objects, security.NewAttachmentPolicy(1024), notifier, nil, nil),
		domain:   d,
		address:  a,
	}
}

func countMessages(t *testing.T, store *memory.Store) int {
	t.Helper()
	total := 0
	for _, f := range []domain.Folder{domain.FolderInbox, domain.FolderSent, domain.FolderArchive, domain.FolderTrash} {
		msgs, err := store.ListMessages(context.Background(), domain.MessageFilter{Folder: f})
		require.NoError(t, err)
		total += len(msgs)
	}
	return total
}

func TestReceive_UnlistedAddressRejected(t *testing.T) {
	f := newInboundFixture(t)

	res, err := f.svc.Receive(context.Background(), domain.InboundEmail{
		From:    "someone@remote.org",
		To:      "sales@example.com",
		Subject: "hello",
		Text:    "hi",
	})
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, domain.RejectAddressNotListed, res.Reason)
	assert.Equal(t, 0, countMessages(t, f.store))
	assert.Empty(t, f.notifier.events)
}

func TestReceive_StoresMessage(t *testing.T) {
	f := newInboundFixture(t)
	ctx := context.Background()

	res, err := f.svc.Receive(ctx, domain.InboundEmail{
		From:      "Alice <Alice@Remote.org>",
		To:        "Info <info@example.com>",
		Text:      "hello",
		HTML:      "<p>hello</p>",
		MessageID: "<m1@remote.org>",
		Headers:   map[string]string{"X-Test": "1"},
	})
	require.NoError(t, err)
	require.False(t, res.Rejected)
	assert.Empty(t, res.SideEffects)

	msg, err := f.store.GetMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@remote.org", msg.FromEmail)
	assert.Equal(t, "Alice", msg.FromName)
	assert.Equal(t, "info@example.com", msg.ToEmail)
	assert.Equal(t, domain.DefaultSubject, msg.Subject)
	assert.Equal(t, domain.FolderInbox, msg.Folder)
	assert.False(t, msg.IsRead || msg.IsStarred || msg.IsArchived || msg.IsTrash || msg.IsSent)
	assert.Equal(t, f.address.ID, msg.AddressID)
	assert.NotEmpty(t, msg.ThreadID)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, f.address.ID, f.notifier.events[0].AddressID)
	assert.Equal(t, msg.ID, f.notifier.events[0].MessageID)
}

func TestReceive_ActivatesAddressOnce(t *testing.T) {
	f := newInboundFixture(t)
	ctx := context.Background()

	_, err := f.svc.Receive(ctx, domain.InboundEmail{From: "a@remote.org", To: "info@example.com", Text: "1"})
	require.NoError(t, err)

	addr, err := f.store.GetAddress(ctx, f.address.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AddressStatusActive, addr.Status)
	require.NotNil(t, addr.FirstReceivedAt)
	first := *addr.FirstReceivedAt

	_, err = f.svc.Receive(ctx, domain.InboundEmail{From: "a@remote.org", To: "info@example.com", Text: "2"})
	require.NoError(t, err)

	addr, err = f.store.GetAddress(ctx, f.address.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *addr.FirstReceivedAt)
	assert.Equal(t, 2, addr.MailCount)
}

func TestReceive_ReplyJoinsThread(t *testing.T) {
	f := newInboundFixture(t)
	ctx := context.Background()

	first, err := f.svc.Receive(ctx, domain.InboundEmail{
		From: "a@remote.org", To: "info@example.com", Text: "1", MessageID: "<root@remote.org>",
	})
	require.NoError(t, err)

	reply, err := f.svc.Receive(ctx, domain.InboundEmail{
		From: "a@remote.org", To: "info@example.com", Text: "2",
		MessageID:  "<reply@remote.org>",
		References: []string{"<root@remote.org>"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.Message.ThreadID, reply.Message.ThreadID)
}

func TestReceive_AttachmentFailuresAreSideEffects(t *testing.T) {
	f := newInboundFixture(t)
	ctx := context.Background()

	f.objects.failPut["broken.pdf"] = true

	res, err := f.svc.Receive(ctx, domain.InboundEmail{
		From: "a@remote.org",
		To:   "info@example.com",
		Text: "see attached",
		Attachments: []domain.InboundAttachment{
			{Filename: "ok.txt", ContentType: "text/plain", Content: base64.StdEncoding.EncodeToString([]byte("fine"))},
			{Filename: "broken.pdf", ContentType: "application/pdf", Content: base64.StdEncoding.EncodeToString([]byte("%PDF"))},
			{Filename: "bad.bin", Content: "!!!not-base64!!!"},
			{Filename: "big.bin", Content: base64.StdEncoding.EncodeToString(make([]byte, 2048))},
			{Filename: "../../etc/passwd", Content: base64.StdEncoding.EncodeToString([]byte("x"))},
		},
	})
	require.NoError(t, err)
	require.False(t, res.Rejected)
	assert.Equal(t, 2, res.Attachments)

	effects := map[string]string{}
	for _, se := range res.SideEffects {
		effects[se.Target] = se.Effect
	}
	assert.Equal(t, EffectAttachmentUpload, effects["broken.pdf"])
	assert.Equal(t, EffectAttachmentDecode, effects["bad.bin"])
	assert.Equal(t, EffectAttachmentSize, effects["big.bin"])

	// 邮件本身仍然保存
	_, err = f.store.GetMessage(ctx, res.Message.ID)
	require.NoError(t, err)

	atts, err := f.store.ListAttachments(ctx, res.Message.ID)
	require.NoError(t, err)
	names := []string{}
	for _, a := range atts {
		names = append(names, a.Filename)
		assert.Equal(t, AttachmentKey(res.Message.ID, a.Filename), a.StoragePath)
	}
	assert.ElementsMatch(t, []string{"ok.txt", "passwd"}, names)
}

func TestReceive_NotificationQueueFull(t *testing.T) {
	f := newInboundFixture(t)
	f.notifier.full = true

	res, err := f.svc.Receive(context.Background(), domain.InboundEmail{From: "a@remote.org", To: "info@example.com", Text: "x"})
	require.NoError(t, err)
	require.Len(t, res.SideEffects, 1)
	assert.Equal(t, EffectNotify, res.SideEffects[0].Effect)
}
