package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaProgressRepo реализует ProgressRepo для базы данных MariaDB/MySQL.
// Использует таблицу blueprint_progress; счётчики обработанного сырья
// хранятся JSON-документом в колонке processed.
type MariaProgressRepo struct {
	db *sql.DB
}

// NewMariaProgressRepo создает новый репозиторий прогресса для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaProgressRepo(dsn string) (*MariaProgressRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaProgressRepo{db: db}

	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return repo, nil
}

// createTable создает таблицу blueprint_progress, если она не существует.
func (r *MariaProgressRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS blueprint_progress (
			blueprint_id   VARCHAR(64)  PRIMARY KEY,
			recipe_id      VARCHAR(64)  NOT NULL,
			x              INT          NOT NULL,
			z              INT          NOT NULL,
			layer          TINYINT      NOT NULL DEFAULT 0,
			required_phase INT          NOT NULL DEFAULT 0,
			processed      JSON         NOT NULL,
			completed      BOOLEAN      NOT NULL DEFAULT FALSE,
			result_id      VARCHAR(64)  NOT NULL DEFAULT '',
			updated_at     TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			               ON UPDATE    CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`

	_, err := r.db.Exec(query)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы blueprint_progress: %w", err)
	}

	return nil
}

const mariaUpsert = `
	INSERT INTO blueprint_progress
		(blueprint_id, recipe_id, x, z, layer, required_phase, processed, completed, result_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		processed  = VALUES(processed),
		completed  = VALUES(completed),
		result_id  = VALUES(result_id),
		updated_at = CURRENT_TIMESTAMP
`

// Save сохраняет прогресс чертежа в базе данных.
// Использует INSERT ... ON DUPLICATE KEY UPDATE для обновления существующих записей.
func (r *MariaProgressRepo) Save(ctx context.Context, rec *ProgressRecord) error {
	if rec == nil || rec.BlueprintID == "" {
		return fmt.Errorf("недействительная запись прогресса")
	}

	processed, err := json.Marshal(rec.Processed)
	if err != nil {
		return fmt.Errorf("ошибка сериализации processed: %w", err)
	}

	_, err = r.db.ExecContext(ctx, mariaUpsert,
		rec.BlueprintID, rec.RecipeID, rec.X, rec.Z, rec.Layer,
		rec.RequiredPhase, processed, rec.Completed, rec.ResultID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения прогресса для чертежа %s: %w", rec.BlueprintID, err)
	}

	return nil
}

// Load загружает прогресс чертежа из базы данных.
func (r *MariaProgressRepo) Load(ctx context.Context, blueprintID string) (*ProgressRecord, bool, error) {
	if blueprintID == "" {
		return nil, false, fmt.Errorf("пустой blueprintID")
	}

	query := `
		SELECT blueprint_id, recipe_id, x, z, layer, required_phase,
		       processed, completed, result_id, updated_at
		FROM blueprint_progress WHERE blueprint_id = ?
	`

	rec, err := scanProgress(r.db.QueryRowContext(ctx, query, blueprintID))
	if err == sql.ErrNoRows {
		// Запись не найдена - новый чертёж
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки прогресса для чертежа %s: %w", blueprintID, err)
	}

	return rec, true, nil
}

// Delete удаляет сохранённый прогресс чертежа.
func (r *MariaProgressRepo) Delete(ctx context.Context, blueprintID string) error {
	if blueprintID == "" {
		return fmt.Errorf("пустой blueprintID")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM blueprint_progress WHERE blueprint_id = ?`, blueprintID)
	if err != nil {
		return fmt.Errorf("ошибка удаления прогресса для чертежа %s: %w", blueprintID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("прогресс для чертежа %s не найден", blueprintID)
	}

	return nil
}

// BatchSave сохраняет прогресс нескольких чертежей в одной транзакции.
// Это оптимизация для периодического автосохранения всего уровня.
func (r *MariaProgressRepo) BatchSave(ctx context.Context, records []*ProgressRecord) error {
	if len(records) == 0 {
		return nil // Нечего сохранять
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	stmt, err := tx.PrepareContext(ctx, mariaUpsert)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec == nil || rec.BlueprintID == "" {
			return fmt.Errorf("недействительная запись прогресса в batch")
		}

		processed, err := json.Marshal(rec.Processed)
		if err != nil {
			return fmt.Errorf("ошибка сериализации processed для %s: %w", rec.BlueprintID, err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.BlueprintID, rec.RecipeID, rec.X, rec.Z, rec.Layer,
			rec.RequiredPhase, processed, rec.Completed, rec.ResultID)
		if err != nil {
			return fmt.Errorf("ошибка сохранения прогресса для чертежа %s в batch: %w", rec.BlueprintID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// LoadAll возвращает все сохранённые записи.
func (r *MariaProgressRepo) LoadAll(ctx context.Context) ([]*ProgressRecord, error) {
	query := `
		SELECT blueprint_id, recipe_id, x, z, layer, required_phase,
		       processed, completed, result_id, updated_at
		FROM blueprint_progress
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки всех записей: %w", err)
	}
	defer rows.Close()

	var out []*ProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации: %w", err)
	}

	return out, nil
}

// Close закрывает соединение с базой данных.
func (r *MariaProgressRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row rowScanner) (*ProgressRecord, error) {
	var rec ProgressRecord
	var processed []byte

	err := row.Scan(&rec.BlueprintID, &rec.RecipeID, &rec.X, &rec.Z, &rec.Layer,
		&rec.RequiredPhase, &processed, &rec.Completed, &rec.ResultID, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(processed, &rec.Processed); err != nil {
		return nil, fmt.Errorf("ошибка десериализации processed: %w", err)
	}
	return &rec, nil
}
