package service

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/sender"
	"flowmail/backend/internal/storage"
	"flowmail/backend/internal/storage/memory"
)

var (
	adminPrincipal = &domain.Principal{UserID: "admin-1", Email: "admin@example.com", Admin: true}
	userPrincipal  = &domain.Principal{UserID: "user-1", Email: "user@example.com"}
)

// seedDomain 登记域名并返回
func seedDomain(t *testing.T, store *memory.Store, name string) *domain.Domain {
	t.Helper()
	d := &domain.Domain{ID: "dom-" + name, Name: name}
	require.NoError(t, store.CreateDomain(context.Background(), d))
	return d
}

// seedAddress 把地址加入白名单
func seedAddress(t *testing.T, store *memory.Store, d *domain.Domain, local string) *domain.Address {
	t.Helper()
	a := &domain.Address{
		ID:        "addr-" + local + "@" + d.Name,
		DomainID:  d.ID,
		LocalPart: local,
		Status:    domain.AddressStatusPending,
		CreatedBy: adminPrincipal.UserID,
	}
	require.NoError(t, store.CreateAddress(context.Background(), a))
	return a
}

// memObjects 内存对象存储，failPut 中的文件名上传时返回错误
type memObjects struct {
	mu      sync.Mutex
	objects map[string]storage.Object
	failPut map[string]bool
	deleted []string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string]storage.Object{}, failPut: map[string]bool{}}
}

func (m *memObjects) PutObject(_ context.Context, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut[path.Base(key)] {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = storage.Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) (*storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &obj, nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjects) Ping(context.Context) error { return nil }

// recordingNotifier 记录收到的事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.NewMailEvent
	full   bool
}

func (n *recordingNotifier) NotifyNewMail(evt domain.NewMailEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.full {
		return false
	}
	n.events = append(n.events, evt)
	return true
}

// MockSender 模拟发信服务商
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Name() string { return "mock" }

func (m *MockSender) RequiresKey() bool {
	return m.Called().Bool(0)
}

func (m *MockSender) Send(ctx context.Context, apiKey string, msg *sender.Message) (string, error) {
	args := m.Called(ctx, apiKey, msg)
	return args.String(0), args.Error(1)
}

func (m *MockSender) ListDomains(ctx context.Context, apiKey string) ([]sender.ProviderDomain, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sender.ProviderDomain), args.Error(1)
}
