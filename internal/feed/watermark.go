package feed

import (
	"slices"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// Unread counts entries in userID's feed after their watermark.
func (b *Builder) Unread(userID string) int {
	f, ok := b.lookup(userID)
	if !ok {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return unreadLocked(f)
}

func unreadLocked(f *userFeed) int {
	if f.watermark.IsZero() {
		return len(f.entries)
	}
	i, found := slices.BinarySearchFunc(f.entries, f.watermark.FeedKey, func(a models.Activity, k models.FeedKey) int {
		return a.Key().Compare(k)
	})
	if found {
		i++
	}
	return len(f.entries) - i
}

// Watermark returns userID's current watermark.
func (b *Builder) Watermark(userID string) models.Watermark {
	f, ok := b.lookup(userID)
	if !ok {
		return models.Watermark{UserID: userID}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.watermark
}

// MarkRead moves userID's watermark to the head of their feed. The head is
// read under the same lock Append takes, so an activity appended concurrently
// is either covered or stays unread.
func (b *Builder) MarkRead(userID, requestID string) models.Watermark {
	f := b.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()

	wm := models.Watermark{
		UserID:    userID,
		FeedKey:   f.head(),
		RequestID: requestID,
		UpdatedAt: b.now().UTC(),
	}
	setWatermarkLocked(f, wm)
	return f.watermark
}

// NextWatermark returns the watermark MarkRead would set without applying it.
// Callers that persist before applying must keep appends to userID out until
// SetWatermark returns.
func (b *Builder) NextWatermark(userID, requestID string) models.Watermark {
	wm := models.Watermark{UserID: userID, RequestID: requestID, UpdatedAt: b.now().UTC()}
	f, ok := b.lookup(userID)
	if !ok {
		return wm
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	wm.FeedKey = f.head()
	if wm.FeedKey.Compare(f.watermark.FeedKey) < 0 {
		wm.FeedKey = f.watermark.FeedKey
	}
	return wm
}

// SetWatermark applies wm. Watermarks never move backwards; an older
// position is ignored.
func (b *Builder) SetWatermark(wm models.Watermark) models.Watermark {
	f := b.feed(wm.UserID)
	f.mu.Lock()
	defer f.mu.Unlock()
	setWatermarkLocked(f, wm)
	return f.watermark
}

func setWatermarkLocked(f *userFeed, wm models.Watermark) {
	if wm.FeedKey.Compare(f.watermark.FeedKey) < 0 {
		return
	}
	if wm.UpdatedAt.IsZero() {
		wm.UpdatedAt = time.Now().UTC()
	}
	f.watermark = wm
}
