// Package notice holds the transient messages shown to desk operators.
// Every notice closes itself after its TTL and can be dismissed earlier.
package notice

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

const (
	InfoTTL  = 2 * time.Second
	ErrorTTL = 5 * time.Second
)

type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Board struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewBoard() *Board {
	return &Board{
		cache: cache.New(ErrorTTL, time.Minute),
		now:   time.Now,
	}
}

// Post adds a notice that disappears after ttl.
func (b *Board) Post(level Level, message string, ttl time.Duration) Notice {
	now := b.now()
	n := Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	b.cache.Set(n.ID, n, ttl)
	return n
}

func (b *Board) Info(message string) Notice {
	return b.Post(LevelInfo, message, InfoTTL)
}

func (b *Board) Error(message string) Notice {
	return b.Post(LevelError, message, ErrorTTL)
}

// Active lists unexpired notices, oldest first.
func (b *Board) Active() []Notice {
	items := b.cache.Items()
	out := make([]Notice, 0, len(items))
	for _, item := range items {
		if n, ok := item.Object.(Notice); ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Dismiss removes a notice and reports whether it was still showing.
func (b *Board) Dismiss(id string) bool {
	if _, ok := b.cache.Get(id); !ok {
		return false
	}
	b.cache.Delete(id)
	return true
}
