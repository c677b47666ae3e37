package notify

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Toast levels.
const (
	ToastLevelAlert   = "alert"
	ToastLevelWarning = "warning"
	ToastLevelInfo    = "info"
)

const defaultToastDuration = 10 * time.Second

// Toast is one transient notice for the dashboard. Sound marks whether the
// consuming UI should play the alert sound; playback itself is the UI's
// concern and its failures never reach this layer.
type Toast struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Sound     bool      `json:"sound"`
	CreatedAt time.Time `json:"created_at"`
}

// ToastFeed is a self-expiring feed of toasts with a bounded display duration.
type ToastFeed struct {
	toasts   *cache.Cache
	duration time.Duration
}

// NewToastFeed creates a feed whose entries expire after the given duration.
func NewToastFeed(duration time.Duration) *ToastFeed {
	if duration <= 0 {
		duration = defaultToastDuration
	}
	return &ToastFeed{
		toasts:   cache.New(duration, duration),
		duration: duration,
	}
}

// Push enqueues a toast and returns it.
func (f *ToastFeed) Push(level, message string, sound bool) Toast {
	t := Toast{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		Sound:     sound,
		CreatedAt: time.Now(),
	}
	f.toasts.SetDefault(t.ID, t)
	return t
}

// Active returns the unexpired toasts, newest first.
func (f *ToastFeed) Active() []Toast {
	items := f.toasts.Items()
	out := make([]Toast, 0, len(items))
	for _, item := range items {
		if t, ok := item.Object.(Toast); ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
