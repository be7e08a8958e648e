package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProgressRepo реализует ProgressRepo в памяти.
// Используется как fallback, когда внешняя БД недоступна,
// или для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryProgressRepo struct {
	mu   sync.RWMutex
	data map[string]*ProgressRecord // blueprintID -> прогресс
}

// NewMemoryProgressRepo создает новый репозиторий прогресса в памяти.
func NewMemoryProgressRepo() *MemoryProgressRepo {
	return &MemoryProgressRepo{
		data: make(map[string]*ProgressRecord),
	}
}

// Save сохраняет прогресс чертежа в памяти.
func (r *MemoryProgressRepo) Save(ctx context.Context, rec *ProgressRecord) error {
	if rec == nil || rec.BlueprintID == "" {
		return fmt.Errorf("недействительная запись прогресса")
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[rec.BlueprintID] = cloneRecord(rec)
	return nil
}

// Load загружает прогресс чертежа из памяти.
func (r *MemoryProgressRepo) Load(ctx context.Context, blueprintID string) (*ProgressRecord, bool, error) {
	if blueprintID == "" {
		return nil, false, fmt.Errorf("пустой blueprintID")
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.data[blueprintID]
	if !exists {
		return nil, false, nil
	}
	return cloneRecord(rec), true, nil
}

// Delete удаляет сохранённый прогресс чертежа из памяти.
func (r *MemoryProgressRepo) Delete(ctx context.Context, blueprintID string) error {
	if blueprintID == "" {
		return fmt.Errorf("пустой blueprintID")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[blueprintID]; !exists {
		return fmt.Errorf("прогресс для чертежа %s не найден", blueprintID)
	}

	delete(r.data, blueprintID)
	return nil
}

// BatchSave сохраняет прогресс нескольких чертежей в памяти.
func (r *MemoryProgressRepo) BatchSave(ctx context.Context, records []*ProgressRecord) error {
	if len(records) == 0 {
		return nil // Нечего сохранять
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Валидация всех записей перед сохранением
	for _, rec := range records {
		if rec == nil || rec.BlueprintID == "" {
			return fmt.Errorf("недействительная запись прогресса в batch")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.data[rec.BlueprintID] = cloneRecord(rec)
	}

	return nil
}

// LoadAll возвращает все сохранённые записи.
func (r *MemoryProgressRepo) LoadAll(ctx context.Context) ([]*ProgressRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProgressRecord, 0, len(r.data))
	for _, rec := range r.data {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// Count возвращает количество сохранённых записей (для отладки).
func (r *MemoryProgressRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Clear очищает все сохранённые записи (для тестов).
func (r *MemoryProgressRepo) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]*ProgressRecord)
}

// cloneRecord копирует запись, чтобы вызывающая сторона не разделяла
// карту Processed с хранилищем.
func cloneRecord(rec *ProgressRecord) *ProgressRecord {
	cp := *rec
	cp.Processed = make(map[string]int, len(rec.Processed))
	for k, v := range rec.Processed {
		cp.Processed[k] = v
	}
	return &cp
}
