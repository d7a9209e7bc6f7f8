package sender

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	mock.Mock
}

func (m *mockSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func (m *mockSES) ListEmailIdentities(ctx context.Context, in *sesv2.ListEmailIdentitiesInput, _ ...func(*sesv2.Options)) (*sesv2.ListEmailIdentitiesOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sesv2.ListEmailIdentitiesOutput)
	return out, args.Error(1)
}

func TestSES_Send(t *testing.T) {
	client := new(mockSES)
	client.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return aws.ToString(in.FromEmailAddress) == "me@example.com" &&
			len(in.Destination.ToAddresses) == 1 &&
			in.Content.Raw != nil && len(in.Content.Raw.Data) > 0
	})).Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	id, err := NewSESWithClient(client, nil).Send(context.Background(), "", &Message{
		FromEmail: "me@example.com",
		To:        "you@remote.org",
		Text:      "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	client.AssertExpectations(t)
}

func TestSES_ListDomainsPaginates(t *testing.T) {
	client := new(mockSES)
	client.On("ListEmailIdentities", mock.Anything, mock.MatchedBy(func(in *sesv2.ListEmailIdentitiesInput) bool {
		return in.NextToken == nil
	})).Return(&sesv2.ListEmailIdentitiesOutput{
		EmailIdentities: []types.IdentityInfo{
			{IdentityName: aws.String("example.com"), IdentityType: types.IdentityTypeDomain, VerificationStatus: types.VerificationStatusSuccess},
			{IdentityName: aws.String("me@example.com"), IdentityType: types.IdentityTypeEmailAddress},
		},
		NextToken: aws.String("page2"),
	}, nil).Once()
	client.On("ListEmailIdentities", mock.Anything, mock.MatchedBy(func(in *sesv2.ListEmailIdentitiesInput) bool {
		return aws.ToString(in.NextToken) == "page2"
	})).Return(&sesv2.ListEmailIdentitiesOutput{
		EmailIdentities: []types.IdentityInfo{
			{IdentityName: aws.String("other.org"), IdentityType: types.IdentityTypeDomain},
		},
	}, nil).Once()

	domains, err := NewSESWithClient(client, nil).ListDomains(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "example.com", domains[0].Name)
	assert.Equal(t, "SUCCESS", domains[0].Status)
	assert.Equal(t, "other.org", domains[1].Name)
}
