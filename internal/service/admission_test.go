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

func TestParseRecipient(t *testing.T) {
	testCases := []struct {
		input   string
		display string
		local   string
		domain  string
		ok      bool
	}{
		{"sales@example.com", "", "sales", "example.com", true},
		{"Sales Team <Sales@Example.COM>", "Sales Team", "sales", "example.com", true},
		{`"Sales, Inc" <sales@example.com>`, "Sales, Inc", "sales", "example.com", true},
		{"  info@example.com  ", "", "info", "example.com", true},
		{"no-at-sign", "", "", "", false},
		{"@example.com", "", "", "", false},
		{"sales@", "", "", "", false},
		{"a@b@example.com", "", "", "", false},
		{"", "", "", "", false},
	}

	for _, tc := range testCases {
		display, local, dom, ok := ParseRecipient(tc.input)
		assert.Equal(t, tc.ok, ok, tc.input)
		if tc.ok {
			assert.Equal(t, tc.display, display, tc.input)
			assert.Equal(t, tc.local, local, tc.input)
			assert.Equal(t, tc.domain, dom, tc.input)
		}
	}
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := seedDomain(t, store, "example.com")
	seedAddress(t, store, d, "info")

	t.Run("白名单地址被接收", func(t *testing.T) {
		dec, err := Admit(ctx, store, store, "Info Desk <INFO@Example.com>")
		require.NoError(t, err)
		assert.True(t, dec.Accepted)
		assert.Equal(t, "info@example.com", dec.Recipient())
		assert.Equal(t, "Info Desk", dec.DisplayName)
		assert.Equal(t, d.ID, dec.Domain.ID)
		assert.Equal(t, "info@example.com", dec.Address.Email)
	})

	t.Run("未创建的地址被拒收", func(t *testing.T) {
		dec, err := Admit(ctx, store, store, "sales@example.com")
		require.NoError(t, err)
		assert.False(t, dec.Accepted)
		assert.Equal(t, domain.RejectAddressNotListed, dec.Reason)
	})

	t.Run("未登记的域名被拒收", func(t *testing.T) {
		dec, err := Admit(ctx, store, store, "info@other.org")
		require.NoError(t, err)
		assert.Equal(t, domain.RejectDomainUnknown, dec.Reason)
	})

	t.Run("格式错误", func(t *testing.T) {
		dec, err := Admit(ctx, store, store, "not-an-address")
		require.NoError(t, err)
		assert.Equal(t, domain.RejectInvalidRecipient, dec.Reason)
	})
}

type failingLookup struct{}

func (failingLookup) GetDomainByName(context.Context, string) (*domain.Domain, error) {
	return nil, errors.New("connection refused")
}

func (failingLookup) FindAddress(context.Context, string, string) (*domain.Address, error) {
	return nil, errors.New("connection refused")
}

func TestAdmit_LookupFailureIsNotRejection(t *testing.T) {
	dec, err := Admit(context.Background(), failingLookup{}, failingLookup{}, "info@example.com")
	assert.Error(t, err)
	assert.False(t, dec.Accepted)
	assert.Empty(t, dec.Reason)

	store := memory.NewStore()
	seedDomain(t, store, "example.com")
	_, err = Admit(context.Background(), store, failingLookup{}, "info@example.com")
	assert.Error(t, err)
}
