package jobs

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/config"
)

// StaticIndex is an IndexSource backed by an in-memory table, seeded from
// the [[index_values]] section of the configuration.
type StaticIndex struct {
	mu     sync.RWMutex
	values map[string]decimal.Decimal
}

var _ IndexSource = (*StaticIndex)(nil)

func NewStaticIndex(values []config.IndexValue) *StaticIndex {
	s := &StaticIndex{values: make(map[string]decimal.Decimal, len(values))}
	for _, v := range values {
		s.values[indexKey(v.Index, v.Period)] = v.Value
	}
	return s
}

func indexKey(index, period string) string { return index + "/" + period }

func (s *StaticIndex) Value(_ context.Context, index, period string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[indexKey(index, period)]
	return v, ok, nil
}

// Publish records a value, replacing any earlier one for the same period.
func (s *StaticIndex) Publish(index, period string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[indexKey(index, period)] = value
}
