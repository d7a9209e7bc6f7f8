package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/config"
	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage/memory"
)

type messageFixture struct {
	svc     *MessageService
	store   *memory.Store
	objects *memObjects
	access  *AccessService
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	store := memory.NewStore()
	objects := newMemObjects()
	access := NewAccessService(store, nil)
	cfg := config.StorageConfig{Bucket: "email-attachments", PublicBaseURL: "https://files.example.com/"}
	return &messageFixture{
		svc:     NewMessageService(store, objects, access, cfg, nil),
		store:   store,
		objects: objects,
		access:  access,
	}
}

func (f *messageFixture) addMessage(t *testing.T, id, addressID string, at time.Time, mutate func(*domain.Message)) {
	t.Helper()
	m := &domain.Message{ID: id, AddressID: addressID, Folder: domain.FolderInbox, ReceivedAt: at, Subject: id}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))
}

func TestMessages_ScopeAndFolders(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	mine := seedDomain(t, f.store, "example.com")
	other := seedDomain(t, f.store, "other.org")
	a1 := seedAddress(t, f.store, mine, "info")
	a2 := seedAddress(t, f.store, other, "info")
	_, err := f.access.Grant(ctx, GrantInput{UserID: userPrincipal.UserID, DomainID: mine.ID})
	require.NoError(t, err)

	now := time.Now()
	f.addMessage(t, "old", a1.ID, now.Add(-time.Hour), nil)
	f.addMessage(t, "new", a1.ID, now, nil)
	f.addMessage(t, "foreign", a2.ID, now, nil)
	f.addMessage(t, "sent", "", now, func(m *domain.Message) { m.IsSent = true; m.Folder = domain.FolderSent })

	inbox, err := f.svc.List(ctx, userPrincipal, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "new", inbox[0].ID)
	assert.Equal(t, "old", inbox[1].ID)

	adminInbox, err := f.svc.List(ctx, adminPrincipal, domain.FolderInbox, 0, 0)
	require.NoError(t, err)
	assert.Len(t, adminInbox, 3)

	sent, err := f.svc.List(ctx, userPrincipal, domain.FolderSent, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, sent)

	_, err = f.svc.Get(ctx, userPrincipal, "foreign")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Get(ctx, userPrincipal, "sent")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Get(ctx, adminPrincipal, "sent")
	assert.NoError(t, err)

	page, err := f.svc.List(ctx, adminPrincipal, domain.FolderInbox, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestMessages_Flags(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	f.addMessage(t, "m1", "", time.Now(), nil)

	m, err := f.svc.ToggleStar(ctx, adminPrincipal, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsStarred)

	starred, err := f.svc.List(ctx, adminPrincipal, domain.FolderStarred, 0, 0)
	require.NoError(t, err)
	assert.Len(t, starred, 1)

	m, err = f.svc.ToggleStar(ctx, adminPrincipal, "m1")
	require.NoError(t, err)
	assert.False(t, m.IsStarred)

	_, err = f.svc.SetFlag(ctx, adminPrincipal, "m1", domain.FlagTrash, true)
	require.NoError(t, err)
	inbox, err := f.svc.List(ctx, adminPrincipal, domain.FolderInbox, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, inbox)
	trash, err := f.svc.List(ctx, adminPrincipal, domain.FolderTrash, 0, 0)
	require.NoError(t, err)
	assert.Len(t, trash, 1)

	_, err = f.svc.SetFlag(ctx, adminPrincipal, "m1", domain.MessageFlag("pinned"), true)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.SetFlag(ctx, adminPrincipal, "missing", domain.FlagRead, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessages_GetCleansRawBody(t *testing.T) {
	f := newMessageFixture(t)
	raw := "Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"MIME-Version: 1.0\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nhello there\r\n" +
		"--b1\r\nContent-Type: text/html; charset=utf-8\r\n\r\n<p onclick=\"x()\">hello there</p><script>alert(1)</script>\r\n" +
		"--b1--\r\n"
	f.addMessage(t, "raw", "", time.Now(), func(m *domain.Message) { m.BodyText = raw })

	view, err := f.svc.Get(context.Background(), adminPrincipal, "raw")
	require.NoError(t, err)
	assert.Equal(t, "hello there", view.DisplayText)
	assert.Contains(t, view.DisplayHTML, "hello there")
	assert.NotContains(t, view.DisplayHTML, "<script")
	assert.NotContains(t, view.DisplayHTML, "onclick")
	assert.Equal(t, raw, view.BodyText)
}

func TestMessages_AttachmentsAndDelete(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	f.addMessage(t, "m1", "", time.Now(), nil)

	key := AttachmentKey("m1", "q1 report.pdf")
	require.NoError(t, f.objects.PutObject(ctx, key, "application/pdf", []byte("%PDF")))
	require.NoError(t, f.store.CreateAttachment(ctx, &domain.Attachment{
		ID: "att-1", MessageID: "m1", Filename: "q1 report.pdf", ContentType: "application/pdf", Size: 4, StoragePath: key,
	}))

	atts, err := f.svc.Attachments(ctx, adminPrincipal, "m1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t,
		"https://files.example.com/storage/v1/object/public/email-attachments/attachments/m1/q1%20report.pdf",
		atts[0].URL)

	att, obj, err := f.svc.Download(ctx, adminPrincipal, "att-1")
	require.NoError(t, err)
	assert.Equal(t, "q1 report.pdf", att.Filename)
	assert.Equal(t, []byte("%PDF"), obj.Data)

	pub, err := f.svc.PublicObject(ctx, "email-attachments", "/"+key)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pub.ContentType)
	_, err = f.svc.PublicObject(ctx, "other-bucket", key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.DeleteForever(ctx, adminPrincipal, "m1"))
	assert.Equal(t, []string{key}, f.objects.deleted)
	_, err = f.store.GetMessage(ctx, "m1")
	assert.Error(t, err)
	_, err = f.store.GetAttachment(ctx, "att-1")
	assert.Error(t, err)
}

func TestMessages_Thread(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.addMessage(t, "a", "", now.Add(-2*time.Minute), func(m *domain.Message) { m.ThreadID = "t1" })
	f.addMessage(t, "b", "", now.Add(-time.Minute), func(m *domain.Message) { m.ThreadID = "t1"; m.IsTrash = true })
	f.addMessage(t, "c", "", now, func(m *domain.Message) { m.ThreadID = "t1" })

	thread, err := f.svc.Thread(ctx, adminPrincipal, "t1")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "a", thread[0].ID)
	assert.Equal(t, "c", thread[1].ID)
}
