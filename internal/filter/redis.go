package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// defaultRedisKey はレコードを格納するハッシュの既定キー。
const defaultRedisKey = "filters"

// maxTouchRetries はWATCHが競合した場合の再試行回数。
const maxTouchRetries = 5

// RedisStore は1つのRedisハッシュにレコードを保存するストア。
// フィールドが濾心名、値がレコードのJSON。
type RedisStore struct {
	client *redis.Client
	key    string
	opts   Options
}

// NewRedisStore はRedisに接続してストアを生成する。
func NewRedisStore(ctx context.Context, cfg RedisConfig, opts Options) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redisバックエンドにはアドレスが必要です")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisへの接続に失敗: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
		opts:   opts.withDefaults(),
	}, nil
}

// Initialize はハッシュを検査し、空・型違い・壊れた値を含む場合は初期データで作り直す。
func (s *RedisStore) Initialize(ctx context.Context) error {
	typ, err := s.client.Type(ctx, s.key).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "redisの状態取得に失敗しました", err)
	}

	switch typ {
	case "none":
		s.opts.Logger.Info("濾心データが空のため初期データを投入します", zap.String("key", s.key))
	case "hash":
		records, err := s.load(ctx)
		if err == nil {
			err = validateSet(records)
		}
		if err == nil && len(records) > 0 {
			return nil
		}
		if err != nil && !errors.Is(err, errCorrupt) {
			return apperr.Wrap(apperr.KindStorage, "filter.initialize", "濾心データの読み込みに失敗しました", err)
		}
		if err != nil {
			s.opts.Logger.Warn("濾心データが読み取れないため初期データにリセットします",
				zap.String("key", s.key), zap.Error(err))
		}
	default:
		s.opts.Logger.Warn("濾心データのキーの型が不正なため初期データにリセットします",
			zap.String("key", s.key), zap.String("type", typ))
	}

	values := make(map[string]any, len(DefaultRecords()))
	for _, r := range DefaultRecords() {
		data, err := json.Marshal(r)
		if err != nil {
			return apperr.Wrap(apperr.KindStorage, "filter.initialize", "初期データのエンコードに失敗しました", err)
		}
		values[r.Name] = data
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, values)
		return nil
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "初期データの書き込みに失敗しました", err)
	}
	return nil
}

// List は全レコードを返す。
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "filter.list", "濾心一覧の取得に失敗しました", err)
	}
	return records, nil
}

// Create はHSETNXで同名が無い場合のみ保存する。
func (s *RedisStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.create", "濾心のエンコードに失敗しました", err)
	}

	ok, err := s.client.HSetNX(ctx, s.key, r.Name, data).Result()
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.create", "濾心の保存に失敗しました", err)
	}
	if !ok {
		return Record{}, conflict(r.Name)
	}
	return r, nil
}

// Touch はWATCHでハッシュを監視しながら交換日を更新する。
func (s *RedisStore) Touch(ctx context.Context, name string) (Record, error) {
	var updated Record
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.key, name).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound("filter.touch", name)
		}
		if err != nil {
			return err
		}

		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("濾心 %s のデコードに失敗: %w", name, err)
		}
		r.LastReplace = s.opts.today()

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, name, data)
			return nil
		})
		if err == nil {
			updated = r
		}
		return err
	}

	for i := 0; i < maxTouchRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, apperr.Wrap(apperr.KindStorage, "filter.touch", "濾心の更新に失敗しました", err)
		}
		return updated, nil
	}
	return Record{}, apperr.New(apperr.KindStorage, "filter.touch", "濾心の更新が競合により完了しませんでした")
}

// Delete はHDELの削除件数で存在を判定する。
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	n, err := s.client.HDel(ctx, s.key, name).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.delete", "濾心の削除に失敗しました", err)
	}
	if n == 0 {
		return notFound("filter.delete", name)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context) ([]Record, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(values))
	for name, raw := range values {
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("%w: 濾心 %s のデコードに失敗: %v", errCorrupt, name, err)
		}
		if r.Name != name {
			return nil, fmt.Errorf("%w: 濾心名がキーと一致しません: %s != %s", errCorrupt, r.Name, name)
		}
		records = append(records, r)
	}
	return records, nil
}
