package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/storage/memory"
)

func TestProfile_ResolvePrincipal(t *testing.T) {
	store := memory.NewStore()
	svc := NewProfileService(store, nil)
	ctx := context.Background()

	t.Run("首次认证建档", func(t *testing.T) {
		p, err := svc.ResolvePrincipal(ctx, userPrincipal)
		require.NoError(t, err)
		assert.False(t, p.Admin)

		profile, err := store.GetProfile(ctx, userPrincipal.UserID)
		require.NoError(t, err)
		assert.Equal(t, domain.ProfileRoleUser, profile.Role)
		assert.Equal(t, "user", profile.DisplayName)
	})

	t.Run("令牌声明管理员时建档为 admin", func(t *testing.T) {
		p, err := svc.ResolvePrincipal(ctx, adminPrincipal)
		require.NoError(t, err)
		assert.True(t, p.Admin)

		profile, err := store.GetProfile(ctx, adminPrincipal.UserID)
		require.NoError(t, err)
		assert.Equal(t, domain.ProfileRoleAdmin, profile.Role)
	})

	t.Run("已有资料不被覆盖", func(t *testing.T) {
		require.NoError(t, store.UpdateProfileRole(ctx, userPrincipal.UserID, domain.ProfileRoleAdmin))

		p, err := svc.ResolvePrincipal(ctx, userPrincipal)
		require.NoError(t, err)
		assert.True(t, p.Admin)
		assert.False(t, userPrincipal.Admin, "入参不应被修改")
	})
}

func TestProfile_UpdateRole(t *testing.T) {
	store := memory.NewStore()
	svc := NewProfileService(store, nil)
	ctx := context.Background()

	owner := &domain.Principal{UserID: "owner-1", Admin: true}
	require.NoError(t, store.EnsureProfile(ctx, &domain.Profile{ID: owner.UserID, Role: domain.ProfileRoleOwner}))
	_, err := svc.ResolvePrincipal(ctx, adminPrincipal)
	require.NoError(t, err)
	_, err = svc.ResolvePrincipal(ctx, userPrincipal)
	require.NoError(t, err)

	t.Run("管理员修改普通用户", func(t *testing.T) {
		p, err := svc.UpdateRole(ctx, adminPrincipal, userPrincipal.UserID, domain.ProfileRoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, domain.ProfileRoleAdmin, p.Role)
	})

	t.Run("只有 owner 能授予 owner", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, adminPrincipal, userPrincipal.UserID, domain.ProfileRoleOwner)
		assert.ErrorIs(t, err, ErrForbidden)

		p, err := svc.UpdateRole(ctx, owner, userPrincipal.UserID, domain.ProfileRoleOwner)
		require.NoError(t, err)
		assert.Equal(t, domain.ProfileRoleOwner, p.Role)
	})

	t.Run("管理员不能降级 owner", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, adminPrincipal, owner.UserID, domain.ProfileRoleUser)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("不能修改自己", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, owner, owner.UserID, domain.ProfileRoleAdmin)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("非管理员", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, &domain.Principal{UserID: "x"}, userPrincipal.UserID, domain.ProfileRoleUser)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("未知角色", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, owner, userPrincipal.UserID, "root")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("目标不存在", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, owner, "ghost", domain.ProfileRoleUser)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("用户列表", func(t *testing.T) {
		users, err := svc.ListUsers(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		assert.ElementsMatch(t, []string{owner.UserID, adminPrincipal.UserID, userPrincipal.UserID}, ids)
	})
}

type staticSource struct {
	p   *domain.Principal
	err error
}

func (s staticSource) Principal(string) (*domain.Principal, error) { return s.p, s.err }

func TestProfile_Tokens(t *testing.T) {
	store := memory.NewStore()
	svc := NewProfileService(store, nil)
	ctx := context.Background()
	require.NoError(t, store.EnsureProfile(ctx, &domain.Profile{ID: userPrincipal.UserID, Role: domain.ProfileRoleAdmin}))

	p, err := svc.Tokens(staticSource{p: userPrincipal}).Principal("tok")
	require.NoError(t, err)
	assert.True(t, p.Admin)

	_, err = svc.Tokens(staticSource{err: errors.New("bad token")}).Principal("tok")
	assert.Error(t, err)
}
