package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/imagegen"
	imagegenmock "github.com/pixelsmith-app/pixelsmith/internal/imagegen/mock"
	"github.com/pixelsmith-app/pixelsmith/internal/storage"
)

// =============================================================================
// Mock Storage
// =============================================================================

// mockStorage implements the storage.Storage interface, recording puts and
// serving deterministic URLs.
type mockStorage struct {
	puts   map[string]storage.PutOptions
	PutErr error
	URLErr error
}

func newMockStorage() *mockStorage {
	return &mockStorage{puts: make(map[string]storage.PutOptions)}
}

func (m *mockStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.puts[key] = opts
	return nil
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	return nil, storage.ObjectInfo{}, storage.ErrNotFound
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	delete(m.puts, key)
	return nil
}

func (m *mockStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if m.URLErr != nil {
		return "", m.URLErr
	}
	return "https://files.example.com/" + key, nil
}

func (m *mockStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.puts[key]
	return ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestGenerateStoresImageAndThumbnail(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	store := newMockStorage()

	svc := NewImageService(provider, store, discardLogger())
	img, err := svc.Generate(context.Background(), "user_123", "a lighthouse at dusk")

	require.NoError(t, err)
	assert.Equal(t, 1, provider.GenerateCalls)
	assert.True(t, strings.HasPrefix(img.URL, "https://files.example.com/users/user_123/images/"))
	assert.True(t, strings.HasPrefix(img.ThumbnailURL, "https://files.example.com/users/user_123/thumbnails/"))
	assert.Len(t, store.puts, 2, "expected full image and thumbnail stored")
}

func TestGenerateHostedURLIsPassedThrough(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	provider.GenerateResponse = &imagegen.Result{URL: "https://cdn.provider.example.com/out.png"}
	store := newMockStorage()

	svc := NewImageService(provider, store, discardLogger())
	img, err := svc.Generate(context.Background(), "user_123", "a lighthouse")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.provider.example.com/out.png", img.URL)
	assert.Empty(t, store.puts, "hosted output must not be re-stored")
}

func TestGenerateMapsProviderRateLimit(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	provider.GenerateError = imagegen.ErrRateLimited

	svc := NewImageService(provider, newMockStorage(), discardLogger())
	_, err := svc.Generate(context.Background(), "user_123", "a lighthouse")

	require.Error(t, err)
	assert.Equal(t, domain.ERATELIMIT, domain.ErrorCode(err))
}

func TestGenerateMapsProviderPaymentRequired(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	provider.GenerateError = imagegen.ErrPaymentRequired

	svc := NewImageService(provider, newMockStorage(), discardLogger())
	_, err := svc.Generate(context.Background(), "user_123", "a lighthouse")

	require.Error(t, err)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
}

func TestGenerateStorageFailureIsInternal(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	store := newMockStorage()
	store.PutErr = storage.ErrTooLarge

	svc := NewImageService(provider, store, discardLogger())
	_, err := svc.Generate(context.Background(), "user_123", "a lighthouse")

	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

// =============================================================================
// Edit Tests
// =============================================================================

func TestEditStoresResult(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	store := newMockStorage()

	svc := NewImageService(provider, store, discardLogger())
	img, err := svc.Edit(context.Background(), "user_123", "make the sky purple", []byte{0x89, 0x50}, "image/png")

	require.NoError(t, err)
	assert.Equal(t, 1, provider.EditCalls)
	assert.NotEmpty(t, img.URL)
}

func TestThumbnailFailureIsNotFatal(t *testing.T) {
	provider := imagegenmock.New(discardLogger())
	// Valid PNG header but truncated body: storable, not decodable.
	provider.GenerateResponse = &imagegen.Result{
		Data:        []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a},
		ContentType: "image/png",
	}
	store := newMockStorage()

	svc := NewImageService(provider, store, discardLogger())
	img, err := svc.Generate(context.Background(), "user_123", "a lighthouse")

	require.NoError(t, err)
	assert.NotEmpty(t, img.URL, "the full image must still be served")
	assert.Empty(t, img.ThumbnailURL)
	assert.Len(t, store.puts, 1, "only the full image is stored when thumbnailing fails")
}
