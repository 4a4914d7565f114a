package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 implements the path style object endpoints used by S3Store.
type fakeS3 struct {
	objects  map[string][]byte
	failPuts int
	puts     int
	onPut    func()
	mu       sync.Mutex
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		f.puts++
		if f.onPut != nil {
			f.onPut()
		}
		if f.failPuts > 0 {
			f.failPuts--
			writeS3Error(w, http.StatusForbidden, "AccessDenied", key)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", key)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeS3Error(w http.ResponseWriter, status int, code, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><Key>%s</Key><RequestId>req-1</RequestId></Error>`, code, code, key)
}

func newTestS3Store(t *testing.T, fake *fakeS3, retries uint) *S3Store {
	t.Helper()

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	}
	return NewS3StoreFromConfig(cfg, S3Params{
		Bucket:       "sessions",
		Prefix:       "uploads",
		Endpoint:     server.URL,
		UsePathStyle: true,
		Retries:      retries,
		RetryWait:    time.Millisecond,
	}, log.NewLogger())
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	store := newTestS3Store(t, fake, 0)

	ctx := context.Background()
	key := "movies/holiday.mp4"

	_, err := store.Load(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Save(ctx, key, testRecord()))

	fake.mu.Lock()
	stored, ok := fake.objects["sessions/uploads/"+objectName(key)]
	fake.mu.Unlock()
	require.True(t, ok)
	assert.Contains(t, string(stored), `"committed_offset":524288`)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, testRecord(), got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestS3StoreRetriesSave(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, failPuts: 2}
	store := newTestS3Store(t, fake, 2)

	require.NoError(t, store.Save(context.Background(), "key", testRecord()))

	got, err := store.Load(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, testRecord().SessionURI, got.SessionURI)
}

func TestS3StoreSaveGivesUp(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, failPuts: 3}
	store := newTestS3Store(t, fake, 2)

	err := store.Save(context.Background(), "key", testRecord())
	assert.Error(t, err)
	assert.Equal(t, 3, fake.putCount())
}

func TestS3StoreSavesOnceByDefault(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, failPuts: 1}
	store := newTestS3Store(t, fake, 0)

	err := store.Save(context.Background(), "key", testRecord())
	assert.Error(t, err)
	assert.Equal(t, 1, fake.putCount())
}

func TestS3StoreStopsRetryingWhenCancelled(t *testing.T) {
	t.Run("before the first attempt", func(t *testing.T) {
		fake := &fakeS3{objects: map[string][]byte{}}
		store := newTestS3Store(t, fake, 3)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.Save(ctx, "key", testRecord())
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 0, fake.putCount())
	})

	t.Run("after a failed attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fake := &fakeS3{objects: map[string][]byte{}, failPuts: 10, onPut: cancel}
		store := newTestS3Store(t, fake, 3)

		err := store.Save(ctx, "key", testRecord())
		assert.Error(t, err)
		assert.Equal(t, 1, fake.putCount())
	})
}

func TestNewS3StoreValidation(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Params{Region: "us-east-1"}, log.NewLogger())
	assert.Error(t, err)

	_, err = NewS3Store(context.Background(), S3Params{Bucket: "sessions"}, log.NewLogger())
	assert.Error(t, err)
}
