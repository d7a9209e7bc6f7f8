package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage/memory"
)

func seedMessage(t *testing.T, store *memory.Store, id, messageID, threadID string, at time.Time) {
	t.Helper()
	require.NoError(t, store.CreateMessage(context.Background(), &domain.Message{
		ID:         id,
		MessageID:  messageID,
		ThreadID:   threadID,
		Folder:     domain.FolderInbox,
		ReceivedAt: at,
	}))
}

func TestThreadResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("复用 In-Reply-To 指向邮件的会话", func(t *testing.T) {
		store := memory.NewStore()
		seedMessage(t, store, "m1", "<a@x>", "thread-a", now)

		got, err := NewThreadResolver(store).Resolve(ctx, "<a@x>", nil)
		require.NoError(t, err)
		assert.Equal(t, "thread-a", got)
	})

	t.Run("In-Reply-To 优先于 References", func(t *testing.T) {
		store := memory.NewStore()
		seedMessage(t, store, "m1", "<a@x>", "thread-a", now)
		seedMessage(t, store, "m2", "<b@x>", "thread-b", now)

		got, err := NewThreadResolver(store).Resolve(ctx, "<b@x>", []string{"<a@x>"})
		require.NoError(t, err)
		assert.Equal(t, "thread-b", got)
	})

	t.Run("按 References 顺序取第一条命中", func(t *testing.T) {
		store := memory.NewStore()
		seedMessage(t, store, "m1", "<a@x>", "thread-a", now)
		seedMessage(t, store, "m2", "<b@x>", "thread-b", now)

		got, err := NewThreadResolver(store).Resolve(ctx, "<missing@x>", []string{"", "  ", "<b@x>", "<a@x>"})
		require.NoError(t, err)
		assert.Equal(t, "thread-b", got)
	})

	t.Run("父邮件没有会话时写回新 ID", func(t *testing.T) {
		store := memory.NewStore()
		seedMessage(t, store, "m1", "<a@x>", "", now)

		r := NewThreadResolver(store)
		r.newID = func() string { return "minted" }
		got, err := r.Resolve(ctx, "<a@x>", nil)
		require.NoError(t, err)
		assert.Equal(t, "minted", got)

		parent, err := store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "minted", parent.ThreadID)
	})

	t.Run("没有任何命中时生成新会话", func(t *testing.T) {
		r := NewThreadResolver(memory.NewStore())
		r.newID = func() string { return "fresh" }
		got, err := r.Resolve(ctx, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	})

	t.Run("尖括号按原样精确匹配", func(t *testing.T) {
		store := memory.NewStore()
		seedMessage(t, store, "m1", "<a@x>", "thread-a", now)

		r := NewThreadResolver(store)
		r.newID = func() string { return "fresh" }
		got, err := r.Resolve(ctx, "a@x", nil)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	})
}

// staleThreadStore 返回旧快照，模拟读取之后别的请求已经写入了会话 ID
type staleThreadStore struct {
	*memory.Store
}

func (s staleThreadStore) FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := s.Store.FindByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	m.ThreadID = ""
	return m, nil
}

func TestThreadResolver_LoserAdoptsWinner(t *testing.T) {
	store := memory.NewStore()
	seedMessage(t, store, "m1", "<a@x>", "winner", time.Now())

	r := NewThreadResolver(staleThreadStore{store})
	r.newID = func() string { return "loser" }

	got, err := r.Resolve(context.Background(), "<a@x>", nil)
	require.NoError(t, err)
	assert.Equal(t, "winner", got)
}

func TestThreadResolver_ConcurrentRepliesShareThread(t *testing.T) {
	store := memory.NewStore()
	seedMessage(t, store, "m1", "<root@x>", "", time.Now())
	r := NewThreadResolver(store)

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), "<root@x>", nil)
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
}
