package mirror

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/annel0/basecraft/internal/vec"
)

// Keyframe — полный снимок состояния реплики. Позволяет новому зеркалу
// стартовать с контрольной точки вместо проигрывания всей истории.
type Keyframe struct {
	Seq        uint64                     `json:"seq"`
	Cells      []keyframeCell             `json:"cells"`
	Entities   []EntityState              `json:"entities"`
	Blueprints map[string]*BlueprintState `json:"blueprints"`
}

type keyframeCell struct {
	X     int       `json:"x"`
	Z     int       `json:"z"`
	Layer uint8     `json:"layer"`
	State CellState `json:"state"`
}

// Snapshot сериализует текущее состояние в gzip-сжатый JSON.
func (m *Mirror) Snapshot() ([]byte, error) {
	m.mu.RLock()
	kf := Keyframe{
		Seq:        m.lastSeq,
		Blueprints: make(map[string]*BlueprintState, len(m.blueprints)),
	}
	for key, cs := range m.cells {
		kf.Cells = append(kf.Cells, keyframeCell{X: key.Cell.X, Z: key.Cell.Z, Layer: key.Layer, State: *cs})
	}
	for _, es := range m.entities {
		kf.Entities = append(kf.Entities, *es)
	}
	for id, bs := range m.blueprints {
		cp := *bs
		kf.Blueprints[id] = &cp
	}
	m.mu.RUnlock()

	raw, err := json.Marshal(&kf)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore замещает состояние реплики содержимым снимка.
// События с Seq меньше либо равным Seq снимка после восстановления
// пропускаются как уже применённые.
func (m *Mirror) Restore(payload []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return err
	}

	var kf Keyframe
	if err := json.Unmarshal(raw, &kf); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeq = kf.Seq
	m.cells = make(map[cellKey]*CellState, len(kf.Cells))
	for _, c := range kf.Cells {
		cs := c.State
		m.cells[cellKey{Cell: vec.Vec2{X: c.X, Z: c.Z}, Layer: c.Layer}] = &cs
	}
	m.entities = make(map[string]*EntityState, len(kf.Entities))
	for i := range kf.Entities {
		es := kf.Entities[i]
		m.entities[es.ID] = &es
	}
	m.blueprints = kf.Blueprints
	if m.blueprints == nil {
		m.blueprints = make(map[string]*BlueprintState)
	}

	m.log.Info("🪞 Реплика восстановлена из снимка: seq=%d, ячеек=%d, сущностей=%d", kf.Seq, len(kf.Cells), len(kf.Entities))
	return nil
}
