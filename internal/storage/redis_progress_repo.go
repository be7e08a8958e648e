package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/basecraft/internal/logging"
)

// RedisProgressRepo хранит прогресс чертежей в Redis для быстрого доступа.
// Записи буферизуются и сбрасываются батчами, чтобы частые события
// обработки сырья не превращались в поток одиночных SET.
type RedisProgressRepo struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	batchSize   int
	batchMu     sync.Mutex
	batchBuffer map[string]*ProgressRecord
	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Addr         string        // Адрес Redis сервера
	Password     string        // Пароль (пустой если не требуется)
	DB           int           // Номер базы данных
	KeyPrefix    string        // Префикс для ключей
	TTL          time.Duration // Время жизни записей (0 — без ограничения)
	BatchSize    int           // Размер батча для записи
	BatchFlushMs int           // Интервал сброса батча в миллисекундах
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "basecraft:bp:",
		TTL:          0,
		BatchSize:    100,
		BatchFlushMs: 100,
	}
}

// NewRedisProgressRepo создаёт новый Redis репозиторий прогресса.
func NewRedisProgressRepo(config *RedisConfig) (*RedisProgressRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	// Проверяем подключение
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	repo := &RedisProgressRepo{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[string]*ProgressRecord),
		batchTicker: time.NewTicker(time.Duration(config.BatchFlushMs) * time.Millisecond),
		shutdown:    make(chan struct{}),
	}

	// Фоновая горутина для периодического сброса батчей
	repo.wg.Add(1)
	go repo.batchFlusher()

	logging.Info("🔴 Подключение к Redis установлено: %s", config.Addr)
	return repo, nil
}

// Save кладёт запись в батч-буфер; при заполнении буфер сбрасывается немедленно.
func (r *RedisProgressRepo) Save(ctx context.Context, rec *ProgressRecord) error {
	if rec == nil || rec.BlueprintID == "" {
		return fmt.Errorf("недействительная запись прогресса")
	}

	rec.UpdatedAt = time.Now()

	r.batchMu.Lock()
	r.batchBuffer[rec.BlueprintID] = cloneRecord(rec)

	if len(r.batchBuffer) >= r.batchSize {
		batch := r.batchBuffer
		r.batchBuffer = make(map[string]*ProgressRecord)
		r.batchMu.Unlock()

		return r.flushBatch(ctx, batch)
	}

	r.batchMu.Unlock()
	return nil
}

// Load загружает прогресс чертежа из Redis.
func (r *RedisProgressRepo) Load(ctx context.Context, blueprintID string) (*ProgressRecord, bool, error) {
	if blueprintID == "" {
		return nil, false, fmt.Errorf("пустой blueprintID")
	}

	// Буфер просматриваем первым, чтобы не отдать устаревшие данные
	r.batchMu.Lock()
	if rec, ok := r.batchBuffer[blueprintID]; ok {
		out := cloneRecord(rec)
		r.batchMu.Unlock()
		return out, true, nil
	}
	r.batchMu.Unlock()

	data, err := r.client.Get(ctx, r.keyPrefix+blueprintID).Result()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки прогресса: %w", err)
	}

	var rec ProgressRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, false, fmt.Errorf("ошибка десериализации прогресса: %w", err)
	}
	return &rec, true, nil
}

// Delete удаляет сохранённый прогресс чертежа.
func (r *RedisProgressRepo) Delete(ctx context.Context, blueprintID string) error {
	if blueprintID == "" {
		return fmt.Errorf("пустой blueprintID")
	}

	r.batchMu.Lock()
	delete(r.batchBuffer, blueprintID)
	r.batchMu.Unlock()

	n, err := r.client.Del(ctx, r.keyPrefix+blueprintID).Result()
	if err != nil {
		return fmt.Errorf("ошибка удаления прогресса: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("прогресс для чертежа %s не найден", blueprintID)
	}
	return nil
}

// BatchSave сохраняет прогресс нескольких чертежей одним pipeline.
func (r *RedisProgressRepo) BatchSave(ctx context.Context, records []*ProgressRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := make(map[string]*ProgressRecord, len(records))
	now := time.Now()
	for _, rec := range records {
		if rec == nil || rec.BlueprintID == "" {
			return fmt.Errorf("недействительная запись прогресса в batch")
		}
		cp := cloneRecord(rec)
		cp.UpdatedAt = now
		batch[rec.BlueprintID] = cp
	}

	return r.flushBatch(ctx, batch)
}

// LoadAll возвращает все записи по префиксу через SCAN.
func (r *RedisProgressRepo) LoadAll(ctx context.Context) ([]*ProgressRecord, error) {
	var out []*ProgressRecord

	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // ключ истёк между SCAN и GET
		} else if err != nil {
			return nil, fmt.Errorf("ошибка загрузки %s: %w", iter.Val(), err)
		}

		var rec ProgressRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			logging.Warn("Повреждённая запись прогресса %s пропущена: %v", iter.Val(), err)
			continue
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ошибка SCAN: %w", err)
	}

	return out, nil
}

// Flush принудительно сбрасывает буфер (перед остановкой сервера).
func (r *RedisProgressRepo) Flush(ctx context.Context) error {
	r.batchMu.Lock()
	batch := r.batchBuffer
	r.batchBuffer = make(map[string]*ProgressRecord)
	r.batchMu.Unlock()

	return r.flushBatch(ctx, batch)
}

// Close останавливает фоновый сброс и закрывает клиент.
func (r *RedisProgressRepo) Close() error {
	close(r.shutdown)
	r.wg.Wait()
	r.batchTicker.Stop()

	if err := r.Flush(context.Background()); err != nil {
		logging.Warn("Ошибка финального сброса буфера Redis: %v", err)
	}
	return r.client.Close()
}

// batchFlusher периодически сбрасывает накопленный буфер.
func (r *RedisProgressRepo) batchFlusher() {
	defer r.wg.Done()

	for {
		select {
		case <-r.batchTicker.C:
			r.batchMu.Lock()
			if len(r.batchBuffer) == 0 {
				r.batchMu.Unlock()
				continue
			}
			batch := r.batchBuffer
			r.batchBuffer = make(map[string]*ProgressRecord)
			r.batchMu.Unlock()

			if err := r.flushBatch(context.Background(), batch); err != nil {
				logging.Warn("Ошибка сброса батча в Redis: %v", err)
			}
		case <-r.shutdown:
			return
		}
	}
}

// flushBatch записывает батч одним pipeline.
func (r *RedisProgressRepo) flushBatch(ctx context.Context, batch map[string]*ProgressRecord) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for id, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации прогресса %s: %w", id, err)
		}
		pipe.Set(ctx, r.keyPrefix+id, data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка выполнения pipeline: %w", err)
	}
	return nil
}
