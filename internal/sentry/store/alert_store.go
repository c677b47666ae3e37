// Package store owns the shared mutable sync state: the deduplicated alert
// history, the current scan snapshot, and last-seen prices. All mutation goes
// through its methods; nothing else touches the state directly.
package store

import (
	"sync"

	"market-sentry/internal/entity"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shopspring/decimal"
)

// DefaultHistoryCap bounds the alert history when no cap is configured.
const DefaultHistoryCap = 50

// AlertStore is a bounded, most-recent-first buffer of seen alerts keyed by
// their composite identity. Equal-identity deliveries are redeliveries and are
// dropped, never merged. Ordering follows arrival, not emission time: push and
// poll can race and the store does not re-sort.
type AlertStore struct {
	mu         sync.RWMutex
	seen       *lru.Cache[string, struct{}]
	alerts     []entity.Alert
	cap        int
	snapshot   *entity.ScanSnapshot
	lastPrices map[string]decimal.Decimal
}

// NewAlertStore creates a store holding at most cap alerts.
func NewAlertStore(capacity int) *AlertStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	// Entries are never promoted after insertion, so LRU eviction order
	// matches arrival order and the identity set stays aligned with the
	// alert buffer.
	seen, _ := lru.New[string, struct{}](capacity)
	return &AlertStore{
		seen:       seen,
		alerts:     make([]entity.Alert, 0, capacity),
		cap:        capacity,
		lastPrices: make(map[string]decimal.Decimal),
	}
}

// Offer decides whether the alert is new. A new alert is inserted at the head
// and true is returned; a redelivery is dropped and false is returned. When
// the buffer exceeds its cap the oldest entries are evicted.
func (s *AlertStore) Offer(alert entity.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alert.Key()
	if s.seen.Contains(key) {
		return false
	}
	s.seen.Add(key, struct{}{})

	s.alerts = append([]entity.Alert{alert}, s.alerts...)
	if len(s.alerts) > s.cap {
		s.alerts = s.alerts[:s.cap]
	}
	return true
}

// Alerts returns a copy of the history, head first (most recent arrival).
func (s *AlertStore) Alerts() []entity.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len returns the number of alerts currently held.
func (s *AlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Get returns the alert with the given identity key.
func (s *AlertStore) Get(key string) (entity.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.alerts {
		if s.alerts[i].Key() == key {
			return s.alerts[i], true
		}
	}
	return entity.Alert{}, false
}

// Remove drops the alert with the given identity key, used for user dismiss
// and snooze. The identity is freed: the backend owns any later redelivery.
func (s *AlertStore) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].Key() == key {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			s.seen.Remove(key)
			return true
		}
	}
	return false
}

// SetSnapshot replaces the current scan snapshot wholesale.
func (s *AlertStore) SetSnapshot(snapshot *entity.ScanSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

// Snapshot returns the last successful scan snapshot, which stays visible
// through fetch failures so the dashboard never blanks out on a bad cycle.
func (s *AlertStore) Snapshot() *entity.ScanSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SetLastPrice records the most recent tick price for a symbol. Tick prices
// live beside the snapshot rather than merged into it, keeping snapshot
// replacement wholesale.
func (s *AlertStore) SetLastPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrices[symbol] = price
}

// LastPrice returns the most recent tick price for a symbol.
func (s *AlertStore) LastPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.lastPrices[symbol]
	return p, ok
}
