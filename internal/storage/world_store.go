package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// WorldStore — встраиваемое хранилище состояния мира на BadgerDB.
// Хранит размещения сущностей, прогресс чертежей и номер текущей фазы;
// используется для снятия и восстановления снимка уровня между запусками.
type WorldStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// Префиксы ключей в BadgerDB.
var (
	keyPlacementPrefix = []byte("placement:")
	keyBlueprintPrefix = []byte("blueprint:")
	keyPhase           = []byte("meta:phase")
)

// PlacementRecord — одно размещение на сетке.
// Kind различает занятые слои ("placed") и элементы стопки сырья ("raw");
// для сырья StackIndex сохраняет порядок в стопке.
type PlacementRecord struct {
	EntityID   string `json:"entity_id"`
	Template   string `json:"template"`
	X          int    `json:"x"`
	Z          int    `json:"z"`
	Layer      uint8  `json:"layer"`
	Refinement string `json:"refinement"`
	Kind       string `json:"kind"`
	StackIndex int    `json:"stack_index,omitempty"`
}

// WorldSnapshot — полное сохраняемое состояние уровня.
type WorldSnapshot struct {
	Phase      int32
	Placements []PlacementRecord
	Blueprints []*ProgressRecord
}

// NewWorldStore создает новое хранилище мира.
func NewWorldStore(dataPath string) (*WorldStore, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &WorldStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных.
func (ws *WorldStore) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	return ws.db.Close()
}

// SaveSnapshot замещает сохранённое состояние содержимым снимка.
// Старые размещения и чертежи удаляются целиком: снимок — источник истины.
func (ws *WorldStore) SaveSnapshot(snap *WorldSnapshot) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	if err := ws.db.DropPrefix(keyPlacementPrefix, keyBlueprintPrefix); err != nil {
		return fmt.Errorf("не удалось очистить старый снимок: %w", err)
	}

	wb := ws.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range snap.Placements {
		rec := &snap.Placements[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации размещения %s: %w", rec.EntityID, err)
		}
		key := append(append([]byte{}, keyPlacementPrefix...), rec.EntityID...)
		if err := wb.Set(key, data); err != nil {
			return fmt.Errorf("ошибка записи размещения %s: %w", rec.EntityID, err)
		}
	}

	for _, rec := range snap.Blueprints {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ошибка сериализации чертежа %s: %w", rec.BlueprintID, err)
		}
		key := append(append([]byte{}, keyBlueprintPrefix...), rec.BlueprintID...)
		if err := wb.Set(key, data); err != nil {
			return fmt.Errorf("ошибка записи чертежа %s: %w", rec.BlueprintID, err)
		}
	}

	phase, err := json.Marshal(snap.Phase)
	if err != nil {
		return err
	}
	if err := wb.Set(append([]byte{}, keyPhase...), phase); err != nil {
		return fmt.Errorf("ошибка записи фазы: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка фиксации снимка: %w", err)
	}
	return nil
}

// LoadSnapshot читает сохранённое состояние уровня.
// Отсутствие данных не является ошибкой: возвращается пустой снимок.
func (ws *WorldStore) LoadSnapshot() (*WorldSnapshot, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	snap := &WorldSnapshot{}

	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPlacementPrefix
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec PlacementRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("повреждённое размещение %s: %w", it.Item().Key(), err)
				}
				snap.Placements = append(snap.Placements, rec)
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = keyBlueprintPrefix
		it = txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec ProgressRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("повреждённый чертёж %s: %w", it.Item().Key(), err)
				}
				snap.Blueprints = append(snap.Blueprints, &rec)
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		item, err := txn.Get(keyPhase)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap.Phase)
		})
	})
	if err != nil {
		return nil, err
	}

	// Итератор обходит ключи лексикографически (по EntityID), поэтому
	// порядок стопок сырья нужно восстановить по StackIndex.
	sort.Slice(snap.Placements, func(i, j int) bool {
		a, b := &snap.Placements[i], &snap.Placements[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.StackIndex < b.StackIndex
	})

	return snap, nil
}

// RunGC запускает сборку мусора value log. Вызывается периодически.
func (ws *WorldStore) RunGC() error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := ws.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil // Нечего собирать
	}
	return err
}
