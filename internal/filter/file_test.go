package filter

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// newObservedFileStore は内容を書き込んだファイルと、ログを観測できるストアを返す。
func newObservedFileStore(t *testing.T, content string) (*FileStore, string, *observer.ObservedLogs) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "filters.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	core, logs := observer.New(zapcore.InfoLevel)
	opts := testOptions()
	opts.Logger = zap.New(core)

	s, err := NewFileStore(path, opts)
	require.NoError(t, err)
	return s, path, logs
}

// TestFileStore_Initialize はfileバックエンド固有の初期化・復旧を検証する。
func TestFileStore_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("ファイルが無い場合は初期データでファイルが作られること", func(t *testing.T) {
		t.Parallel()

		s, path, _ := newObservedFileStore(t, "")
		require.NoError(t, s.Initialize(t.Context()))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		// 元の実装と同じく、インデント4・非ASCII文字をそのまま書き出す
		assert.Contains(t, string(data), "    {\n        \"name\": \"前置濾網\"")
	})

	t.Run("壊れたJSONは警告を記録して初期データに戻すこと", func(t *testing.T) {
		t.Parallel()

		s, _, logs := newObservedFileStore(t, "{not json")
		require.NoError(t, s.Initialize(t.Context()))

		got, err := s.List(t.Context())
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "リセットが警告として記録されるべき")
	})

	t.Run("構造的に不正なレコードを含む場合も初期データに戻すこと", func(t *testing.T) {
		t.Parallel()

		contents := []string{
			`[{"name":"A","last_replace":"2025-01-01","lifespan":0}]`,
			`[{"name":"A","last_replace":"yesterday","lifespan":10}]`,
			`[{"name":"A","last_replace":"2025-01-01","lifespan":10},{"name":"A","last_replace":"2025-01-02","lifespan":20}]`,
			`{"name":"A"}`,
		}
		for _, content := range contents {
			s, _, logs := newObservedFileStore(t, content)
			require.NoError(t, s.Initialize(t.Context()))

			got, err := s.List(t.Context())
			require.NoError(t, err)
			assert.Equal(t, sortByName(DefaultRecords()), sortByName(got), "content: %s", content)
			assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "content: %s", content)
		}
	})

	t.Run("空の配列は初期データで埋めること", func(t *testing.T) {
		t.Parallel()

		s, _, logs := newObservedFileStore(t, "[]")
		require.NoError(t, s.Initialize(t.Context()))

		got, err := s.List(t.Context())
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, 0, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	})

	t.Run("既存の正しいデータは変更しないこと", func(t *testing.T) {
		t.Parallel()

		content := `[{"name":"A","last_replace":"2025-01-01","lifespan":10}]`
		s, path, _ := newObservedFileStore(t, content)
		require.NoError(t, s.Initialize(t.Context()))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})
}

// TestFileStore_InitializeReadError は読み込み自体の失敗では初期データで上書きしないことを検証する。
func TestFileStore_InitializeReadError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filters.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	s, err := NewFileStore(path, testOptions())
	require.NoError(t, err)

	err = s.Initialize(t.Context())
	assert.True(t, apperr.IsKind(err, apperr.KindStorage), "err = %v", err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestFileStore_LiveCorruption はリクエスト処理中の破損がリセットされずStorageErrorになることを検証する。
func TestFileStore_LiveCorruption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "JSONとして読めない", content: "garbage"},
		{name: "寿命が0のレコード", content: `[{"name":"a","last_replace":"2025-01-01","lifespan":0}]`},
		{name: "日付が不正なレコード", content: `[{"name":"a","last_replace":"2025/01/01","lifespan":10}]`},
		{name: "名前が空のレコード", content: `[{"name":"","last_replace":"2025-01-01","lifespan":10}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, path, _ := newObservedFileStore(t, "")
			require.NoError(t, s.Initialize(t.Context()))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := s.List(t.Context())
			assert.True(t, apperr.IsKind(err, apperr.KindStorage), "err = %v", err)
			assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(apperr.KindOf(err)))

			_, err = s.Create(t.Context(), Record{Name: "B", LastReplace: "2025-02-02", Lifespan: 5})
			assert.True(t, apperr.IsKind(err, apperr.KindStorage), "err = %v", err)

			_, err = s.Touch(t.Context(), "前置濾網")
			assert.True(t, apperr.IsKind(err, apperr.KindStorage), "err = %v", err)

			err = s.Delete(t.Context(), "前置濾網")
			assert.True(t, apperr.IsKind(err, apperr.KindStorage), "err = %v", err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data), "ライブリクエストでファイルをリセットしてはいけない")
		})
	}
}

// TestFileStore_NoTempFilesLeft は書き込み後に一時ファイルが残らないことを検証する。
func TestFileStore_NoTempFilesLeft(t *testing.T) {
	t.Parallel()

	s, path, _ := newObservedFileStore(t, "")
	require.NoError(t, s.Initialize(t.Context()))
	_, err := s.Create(t.Context(), Record{Name: "B", LastReplace: "2025-02-02", Lifespan: 5})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "一時ファイルが残っている: %s", e.Name())
	}
}
