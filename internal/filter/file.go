package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// FileStore はJSONファイル1つにレコードを保存するストア。
// 読み込み・変更・書き込みの一連の処理をミューテックスで直列化する。
type FileStore struct {
	// path はJSONファイルのパス。
	path string
	// mu は読み込みから書き込みまでを保護する。
	mu sync.Mutex
	// opts は共通の依存。
	opts Options
}

// NewFileStore はJSONファイルを保存先とするストアを生成する。
func NewFileStore(path string, opts Options) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("fileバックエンドにはファイルパスが必要です")
	}
	return &FileStore{
		path: path,
		opts: opts.withDefaults(),
	}, nil
}

// Initialize はファイルを検査し、存在しない・空・壊れている場合は初期データで作り直す。
func (s *FileStore) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.opts.Logger.Info("濾心データファイルが存在しないため初期データを作成します", zap.String("path", s.path))
	case err != nil && !errors.Is(err, errCorrupt):
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "濾心データファイルの読み込みに失敗しました", err)
	case err != nil:
		s.opts.Logger.Warn("濾心データファイルが読み取れないため初期データにリセットします",
			zap.String("path", s.path), zap.Error(err))
	case len(records) == 0:
		s.opts.Logger.Info("濾心データが空のため初期データを投入します", zap.String("path", s.path))
	default:
		return nil
	}

	if err := s.save(DefaultRecords()); err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "初期データの書き込みに失敗しました", err)
	}
	return nil
}

// List は全レコードを返す。
func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "filter.list", "濾心一覧の取得に失敗しました", err)
	}
	return records, nil
}

// Create はレコードを末尾に追加する。
func (s *FileStore) Create(_ context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.create", "濾心データの読み込みに失敗しました", err)
	}
	for _, existing := range records {
		if existing.Name == r.Name {
			return Record{}, apperr.New(apperr.KindConflict, "filter.create", fmt.Sprintf("濾心 %s は既に存在します", r.Name))
		}
	}

	if err := s.save(append(records, r)); err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.create", "濾心の保存に失敗しました", err)
	}
	return r, nil
}

// Touch は指定レコードの交換日を今日に更新する。
func (s *FileStore) Touch(_ context.Context, name string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.touch", "濾心データの読み込みに失敗しました", err)
	}

	for i := range records {
		if records[i].Name != name {
			continue
		}
		records[i].LastReplace = s.opts.today()
		if err := s.save(records); err != nil {
			return Record{}, apperr.Wrap(apperr.KindStorage, "filter.touch", "濾心の更新に失敗しました", err)
		}
		return records[i], nil
	}
	return Record{}, notFound("filter.touch", name)
}

// Delete は指定レコードを削除する。
func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.delete", "濾心データの読み込みに失敗しました", err)
	}

	kept := records[:0]
	for _, r := range records {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return notFound("filter.delete", name)
	}

	if err := s.save(kept); err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.delete", "濾心の削除に失敗しました", err)
	}
	return nil
}

// Close はfileバックエンドでは何もしない。
func (s *FileStore) Close() error {
	return nil
}

// load はファイルを読み込み、構造を検証する。呼び出し元がmuを保持していること。
func (s *FileStore) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: JSONの解析に失敗: %v", errCorrupt, err)
	}
	if err := validateSet(records); err != nil {
		return nil, fmt.Errorf("不正なレコード: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// save は一時ファイルに書き込んでfsyncした後にリネームする。呼び出し元がmuを保持していること。
func (s *FileStore) save(records []Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("JSONのエンコードに失敗: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("一時ファイルへの書き込みに失敗: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsyncに失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("ファイルの置き換えに失敗: %w", err)
	}
	return nil
}

func notFound(op, name string) error {
	return apperr.New(apperr.KindNotFound, op, fmt.Sprintf("濾心 %s が見つかりません", name))
}
