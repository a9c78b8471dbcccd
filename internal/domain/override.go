package domain

import "sync/atomic"

// TestingOverride — глобальный диагностический режим: снимает проверку
// выдержки записи и интервалы между ответами. Включается только целиком,
// на отдельный запрос его распространить нельзя.
type TestingOverride struct {
	enabled atomic.Bool
}

// NewTestingOverride создаёт флаг с начальным значением.
func NewTestingOverride(enabled bool) *TestingOverride {
	o := &TestingOverride{}
	o.enabled.Store(enabled)
	return o
}

// Enabled сообщает текущее состояние режима.
func (o *TestingOverride) Enabled() bool {
	if o == nil {
		return false
	}
	return o.enabled.Load()
}

// Set переключает режим.
func (o *TestingOverride) Set(enabled bool) {
	o.enabled.Store(enabled)
}
