package storage

import (
	"context"
	"time"
)

// ProgressRecord — сохраняемый прогресс одного чертежа.
// Processed хранит количество обработанного сырья по типам материалов.
type ProgressRecord struct {
	BlueprintID   string         `json:"blueprint_id"`
	RecipeID      string         `json:"recipe_id"`
	X             int            `json:"x"`
	Z             int            `json:"z"`
	Layer         uint8          `json:"layer"`
	RequiredPhase int32          `json:"required_phase"`
	Processed     map[string]int `json:"processed"`
	Completed     bool           `json:"completed"`
	ResultID      string         `json:"result_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ProgressRepo определяет интерфейс для сохранения и загрузки прогресса чертежей.
// Записи привязаны к BlueprintID (постоянный идентификатор чертежа на уровне),
// поэтому прогресс переживает перезапуск сервера.
type ProgressRepo interface {
	// Save сохраняет прогресс чертежа в хранилище.
	Save(ctx context.Context, rec *ProgressRecord) error

	// Load загружает прогресс чертежа.
	// Второй результат false означает, что запись не найдена (новый чертёж).
	Load(ctx context.Context, blueprintID string) (*ProgressRecord, bool, error)

	// Delete удаляет сохранённый прогресс (для тестов или сброса уровня).
	Delete(ctx context.Context, blueprintID string) error

	// BatchSave сохраняет прогресс нескольких чертежей одновременно
	// (для периодического автосохранения).
	BatchSave(ctx context.Context, records []*ProgressRecord) error

	// LoadAll возвращает все сохранённые записи (восстановление уровня).
	LoadAll(ctx context.Context) ([]*ProgressRecord, error)
}
