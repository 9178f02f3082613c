package history

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medianalyst/internal/types"
)

func record(i int) types.MedicalAnalysis {
	return types.MedicalAnalysis{
		ID:        strconv.Itoa(1000 + i),
		Timestamp: int64(1000 + i),
		Product:   types.ProductInfo{BrandName: "品牌", ProductName: "产品" + strconv.Itoa(i)},
		Pathology: types.DiagramAnalysis{Explanation: "e", MermaidCode: "graph TD\nA-->B"},
		ChatHistory: []types.ChatMessage{
			{Role: types.RoleModel, Content: "你好"},
		},
	}
}

func TestAppendKeepsNewestTwenty(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	for i := 1; i <= 21; i++ {
		_, err := s.Append(ctx, record(i))
		require.NoError(t, err)
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, Capacity)
	assert.Equal(t, record(21).ID, list[0].ID)
	assert.Equal(t, record(2).ID, list[Capacity-1].ID)

	_, err = s.Get(ctx, record(1).ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	want, err := s.Append(ctx, record(7))
	require.NoError(t, err)
	assert.Equal(t, record(7), want)

	got, err := s.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// served from the cache the second time
	got, err = s.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAppendInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	_, err := s.Append(ctx, record(1))
	require.NoError(t, err)
	_, err = s.Get(ctx, record(1).ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.cache.Len())

	_, err = s.Append(ctx, record(2))
	require.NoError(t, err)
	assert.Equal(t, 0, s.cache.Len())
}

func TestCorruptDataIsEmpty(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.Save(ctx, Key, []byte("{not json")))
	s := New(b, nil)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Append(ctx, record(1))
	require.NoError(t, err)
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileBackendPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	s := New(NewFileBackend(path), nil)
	for i := 1; i <= 2; i++ {
		_, err := s.Append(ctx, record(i))
		require.NoError(t, err)
	}

	reopened := New(NewFileBackend(path), nil)
	list, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, record(2).ID, list[0].ID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "A-->B")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileBackendMissingFile(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "none.json"))
	_, ok, err := b.Load(context.Background(), Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenBackend(t *testing.T) {
	b, err := OpenBackend(Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = OpenBackend(Options{FilePath: filepath.Join(t.TempDir(), "h.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	_, err = OpenBackend(Options{Backend: "postgres"})
	assert.Error(t, err)
	_, err = OpenBackend(Options{Backend: "etcd"})
	assert.Error(t, err)
}

func TestAppendRequiresID(t *testing.T) {
	s := New(NewMemoryBackend(), nil)
	_, err := s.Append(context.Background(), types.MedicalAnalysis{})
	assert.Error(t, err)
}

func TestAppendSameMillisecondKeepsBoth(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)

	first, err := s.Append(ctx, record(1))
	require.NoError(t, err)
	second, err := s.Append(ctx, record(1))
	require.NoError(t, err)
	third, err := s.Append(ctx, record(1))
	require.NoError(t, err)

	assert.Equal(t, "1001", first.ID)
	assert.Equal(t, "1002", second.ID)
	assert.Equal(t, int64(1002), second.Timestamp)
	assert.Equal(t, "1003", third.ID)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"1003", "1002", "1001"}, []string{list[0].ID, list[1].ID, list[2].ID})
}
