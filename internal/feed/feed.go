// Package feed keeps one chronological activity feed per user and the read
// watermark on top of it.
package feed

import (
	"encoding/base64"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is one slice of a feed, newest first.
type Page struct {
	Activities []models.Activity
	// NextCursor is empty on the last page.
	NextCursor string
}

type userFeed struct {
	mu        sync.RWMutex
	entries   []models.Activity // ascending by (date, id)
	watermark models.Watermark
}

func (f *userFeed) head() models.FeedKey {
	if len(f.entries) == 0 {
		return models.FeedKey{}
	}
	return f.entries[len(f.entries)-1].Key()
}

// Builder fans events out into per-user feeds. It is safe for concurrent use.
type Builder struct {
	now func() time.Time

	mu    sync.RWMutex
	feeds map[string]*userFeed
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides time.Now for activity dates.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder returns a builder with no feeds.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now, feeds: make(map[string]*userFeed)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) feed(userID string) *userFeed {
	b.mu.RLock()
	f, ok := b.feeds[userID]
	b.mu.RUnlock()
	if ok {
		return f
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.feeds[userID]; ok {
		return f
	}
	f = &userFeed{watermark: models.Watermark{UserID: userID}}
	b.feeds[userID] = f
	return f
}

func (b *Builder) lookup(userID string) (*userFeed, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.feeds[userID]
	return f, ok
}

// Prepare expands event into one activity per involved user. Each copy gets
// its own time-ordered ID and a date no earlier than the head of the target
// feed, so appending it keeps the feed strictly increasing. Feeds are not
// modified.
func (b *Builder) Prepare(event models.Activity) []models.Activity {
	now := b.now().UTC()
	involved := slices.Compact(slices.Sorted(slices.Values(event.InvolvedUsers)))

	out := make([]models.Activity, 0, len(involved))
	for _, u := range involved {
		a := event
		a.UserID = u
		a.InvolvedUsers = involved
		a.ID = newID()
		a.Date = now

		if f, ok := b.lookup(u); ok {
			f.mu.RLock()
			head := f.head()
			f.mu.RUnlock()
			if !a.Key().After(head) {
				a.Date = head.Date.Add(time.Nanosecond)
			}
		}
		out = append(out, a)
	}
	return out
}

// Append adds prepared activities to their owners' feeds. An activity that
// does not sort after its feed's head is rejected and nothing is appended.
func (b *Builder) Append(activities ...models.Activity) error {
	for _, a := range activities {
		if a.UserID == "" || a.ID == "" {
			return models.Validationf("activity needs an owner and an id")
		}
	}

	feeds := make(map[string]*userFeed)
	for _, a := range activities {
		feeds[a.UserID] = b.feed(a.UserID)
	}
	users := slices.Sorted(maps.Keys(feeds))
	for _, u := range users {
		feeds[u].mu.Lock()
	}
	defer func() {
		for _, u := range users {
			feeds[u].mu.Unlock()
		}
	}()

	heads := make(map[string]models.FeedKey, len(users))
	for _, u := range users {
		heads[u] = feeds[u].head()
	}
	for _, a := range activities {
		if !a.Key().After(heads[a.UserID]) {
			return models.Consistencyf("activity %s does not follow the head of %s's feed", a.ID, a.UserID)
		}
		heads[a.UserID] = a.Key()
	}
	for _, a := range activities {
		f := feeds[a.UserID]
		f.entries = append(f.entries, a)
	}
	return nil
}

// Record prepares and appends event in one step.
func (b *Builder) Record(event models.Activity) ([]models.Activity, error) {
	activities := b.Prepare(event)
	if err := b.Append(activities...); err != nil {
		return nil, err
	}
	return activities, nil
}

// Page returns up to limit entries of userID's feed older than cursor, newest
// first. An empty cursor starts at the head.
func (b *Builder) Page(userID, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	var (
		before models.FeedKey
		bound  bool
	)
	if cursor != "" {
		k, err := DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		before, bound = k, true
	}

	f, ok := b.lookup(userID)
	if !ok {
		return Page{}, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	end := len(f.entries)
	if bound {
		end, _ = slices.BinarySearchFunc(f.entries, before, func(a models.Activity, k models.FeedKey) int {
			return a.Key().Compare(k)
		})
	}
	start := max(0, end-limit)

	page := Page{Activities: make([]models.Activity, 0, end-start)}
	for i := end - 1; i >= start; i-- {
		page.Activities = append(page.Activities, f.entries[i])
	}
	if start > 0 {
		page.NextCursor = EncodeCursor(f.entries[start].Key())
	}
	return page, nil
}

// Len returns the number of entries in userID's feed.
func (b *Builder) Len(userID string) int {
	f, ok := b.lookup(userID)
	if !ok {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// EncodeCursor turns a feed position into an opaque token.
func EncodeCursor(k models.FeedKey) string {
	raw := strconv.FormatInt(k.Date.UnixNano(), 10) + "|" + k.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(cursor string) (models.FeedKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return models.FeedKey{}, models.Validationf("malformed cursor")
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return models.FeedKey{}, models.Validationf("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return models.FeedKey{}, models.Validationf("malformed cursor")
	}
	return models.FeedKey{Date: time.Unix(0, n).UTC(), ID: id}, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
