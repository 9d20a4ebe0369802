package artifacts

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"certificate-portal/certificate-backend/pkg/storage"
)

// fakeS3 is an in-memory bucket honouring conditional uploads
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) Upload(ctx context.Context, bucket, key string, body io.Reader, opts storage.UploadOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[bucket+"/"+key]; ok && opts.IfAbsent {
		return storage.ErrObjectExists
	}
	f.objects[bucket+"/"+key] = data
	f.uploads++
	return nil
}

func (f *fakeS3) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeS3) Exists(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeS3) Delete(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeS3) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	return "https://" + bucket + ".s3.example.com/" + key, nil
}

func TestS3StorePutGet(t *testing.T) {
	client := newFakeS3()
	store := NewS3Store(client, "certs", "prod", zap.NewNop())
	cid := strings.Repeat("4d", 32)

	ref, err := store.Put(context.Background(), cid, []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "certificates/4d/"+cid+".pdf", ref)
	assert.Contains(t, client.objects, "certs/prod/"+ref)

	again, err := store.Put(context.Background(), cid, []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 1, client.uploads)

	data, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), data)

	url, err := store.PresignedURL(context.Background(), ref, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://certs.s3.example.com/prod/"+ref, url)
}

func TestS3StoreConcurrentPut(t *testing.T) {
	client := newFakeS3()
	cid := strings.Repeat("5e", 32)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := NewS3Store(client, "certs", "", zap.NewNop())
			_, err := store.Put(context.Background(), cid, []byte("pdf"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, client.uploads)
}

func TestS3StoreGetStale(t *testing.T) {
	store := NewS3Store(newFakeS3(), "certs", "", zap.NewNop())
	_, err := store.Get(context.Background(), "certificates/aa/missing.pdf")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) Upload(ctx context.Context, bucket, key string, body io.Reader, opts storage.UploadOptions) error {
	args := m.Called(ctx, bucket, key, body, opts)
	return args.Error(0)
}

func (m *MockS3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockS3Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	args := m.Called(ctx, bucket, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockS3Client) Delete(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func (m *MockS3Client) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, expiration)
	return args.String(0), args.Error(1)
}

func TestS3StorePutPropagatesTransientErrors(t *testing.T) {
	client := new(MockS3Client)
	store := NewS3Store(client, "certs", "", zap.NewNop())
	cid := strings.Repeat("6f", 32)
	key := "certificates/6f/" + cid + ".pdf"
	outage := errors.New("connection reset")

	client.On("Exists", mock.Anything, "certs", key).Return(false, nil)
	client.On("Upload", mock.Anything, "certs", key, mock.AnythingOfType("*bytes.Reader"), mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.IfAbsent && o.ContentType == "application/pdf"
	})).Return(outage)

	_, err := store.Put(context.Background(), cid, []byte("pdf"))
	assert.ErrorIs(t, err, outage)
	client.AssertExpectations(t)
}
