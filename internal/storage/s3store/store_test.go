package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flowmail/backend/internal/storage"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.GetObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	return &s3.DeleteObjectOutput{}, args.Error(0)
}

func (m *mockS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, in)
	return &s3.HeadBucketOutput{}, args.Error(0)
}

func TestStore_PutObject(t *testing.T) {
	api := new(mockS3)
	store := NewWithClient(api, "email-attachments")

	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "email-attachments" &&
			aws.ToString(in.Key) == "attachments/m1/a.txt" &&
			aws.ToString(in.ContentType) == "application/octet-stream"
	})).Return(nil)

	require.NoError(t, store.PutObject(context.Background(), "attachments/m1/a.txt", "", []byte("hi")))
	api.AssertExpectations(t)
}

func TestStore_GetObject(t *testing.T) {
	api := new(mockS3)
	store := NewWithClient(api, "email-attachments")

	api.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "attachments/m1/a.txt"
	})).Return(&s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader([]byte("hi"))),
		ContentType: aws.String("text/plain"),
	}, nil)
	api.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	obj, err := store.GetObject(context.Background(), "attachments/m1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(obj.Data))
	assert.Equal(t, "text/plain", obj.ContentType)

	_, err = store.GetObject(context.Background(), "attachments/m1/missing.txt")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestStore_PutObjectError(t *testing.T) {
	api := new(mockS3)
	store := NewWithClient(api, "b")
	api.On("PutObject", mock.Anything, mock.Anything).Return(errors.New("access denied"))

	err := store.PutObject(context.Background(), "k", "text/plain", nil)
	assert.ErrorContains(t, err, "access denied")
}
