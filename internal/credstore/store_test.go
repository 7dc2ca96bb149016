package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendMissingAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "session.json")
	st := New(FileBackend{})

	err := st.With(context.Background(), path, func(tx *Tx) error {
		_, ok, err := tx.Read()
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.WriteJSON(map[string]string{"user_id": "42"})
	})
	require.NoError(t, err)

	var got map[string]string
	err = st.With(context.Background(), path, func(tx *Tx) error {
		ok, err := tx.ReadJSON(&got)
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "42", got["user_id"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWithSerialisesReadModifyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	st := New(FileBackend{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.With(context.Background(), path, func(tx *Tx) error {
				b, _, err := tx.Read()
				if err != nil {
					return err
				}
				n, _ := strconv.Atoi(string(b))
				return tx.Write([]byte(strconv.Itoa(n + 1)))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20", string(b))
}

func TestWithHonoursContextWhileWaiting(t *testing.T) {
	st := New(FileBackend{})
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = st.With(context.Background(), "k", func(tx *Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := st.With(ctx, "k", func(tx *Tx) error {
		called = true
		return nil
	})
	close(done)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

type memClient struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memClient) PutBytes(ctx context.Context, key string, b []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objs == nil {
		m.objs = map[string][]byte{}
	}
	m.objs[key] = b
	return nil
}

func (m *memClient) GetBytes(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, "", fmt.Errorf("get %s: %w", key, os.ErrNotExist)
	}
	return b, "application/json", nil
}

func (m *memClient) PutFile(ctx context.Context, key, path, contentType string) error { return nil }

func (m *memClient) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

func (m *memClient) Delete(ctx context.Context, key string) error { return nil }

func TestS3BackendKeys(t *testing.T) {
	mc := &memClient{}
	st := New(S3Backend{Client: mc, Prefix: "tokens/"})

	err := st.With(context.Background(), "secrets/token.json", func(tx *Tx) error {
		_, ok, err := tx.Read()
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.Write([]byte(`{"access_token":"a"}`))
	})
	require.NoError(t, err)
	assert.Contains(t, mc.objs, "tokens/token.json")
}
