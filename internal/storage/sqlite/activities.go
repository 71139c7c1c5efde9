package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

func insertActivity(ctx context.Context, tx *sql.Tx, a models.Activity) error {
	involved, err := json.Marshal(a.InvolvedUsers)
	if err != nil {
		return fmt.Errorf("failed to encode involved users: %w", err)
	}
	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode activity detail: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO activities (id, user_id, date, type, description, involved_users, group_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Date.UnixNano(), string(a.Type()), a.Description, string(involved), a.GroupID, string(detail),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to insert activity: %w", err))
	}
	return nil
}

// Activities returns every feed entry ordered by owner and feed position.
func (s *SQLiteStore) Activities(ctx context.Context) ([]models.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, date, type, description, involved_users, group_id, detail
		 FROM activities ORDER BY user_id, date, id`,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list activities: %w", err))
	}
	defer rows.Close()

	var activities []models.Activity
	for rows.Next() {
		var (
			a                      models.Activity
			date                   int64
			kind, involved, detail string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &date, &kind, &a.Description, &involved, &a.GroupID, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Date = time.Unix(0, date).UTC()
		if err := json.Unmarshal([]byte(involved), &a.InvolvedUsers); err != nil {
			return nil, models.Consistencyf("activity %s: involved users: %v", a.ID, err)
		}
		a.Detail, err = decodeDetail(models.ActivityType(kind), []byte(detail))
		if err != nil {
			return nil, models.Consistencyf("activity %s: %v", a.ID, err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate activities: %w", err))
	}
	return activities, nil
}

func decodeDetail(kind models.ActivityType, raw []byte) (models.ActivityDetail, error) {
	switch kind {
	case models.ActivityExpense:
		var d models.ExpenseActivity
		err := json.Unmarshal(raw, &d)
		return d, err
	case models.ActivityPayment:
		var d models.PaymentActivity
		err := json.Unmarshal(raw, &d)
		return d, err
	case models.ActivityGroup:
		var d models.GroupActivity
		err := json.Unmarshal(raw, &d)
		return d, err
	case models.ActivityMessage:
		return models.MessageActivity{}, nil
	default:
		return nil, fmt.Errorf("unknown activity type %q", kind)
	}
}

func upsertWatermark(ctx context.Context, tx *sql.Tx, wm models.Watermark) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO watermarks (user_id, date, activity_id, request_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     date = excluded.date,
		     activity_id = excluded.activity_id,
		     request_id = excluded.request_id,
		     updated_at = excluded.updated_at`,
		wm.UserID, unixNano(wm.Date), wm.ID, wm.RequestID, unixNano(wm.UpdatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to save watermark: %w", err))
	}
	return nil
}

// Watermarks returns the stored read position of every user.
func (s *SQLiteStore) Watermarks(ctx context.Context) ([]models.Watermark, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, date, activity_id, request_id, updated_at FROM watermarks ORDER BY user_id",
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list watermarks: %w", err))
	}
	defer rows.Close()

	var watermarks []models.Watermark
	for rows.Next() {
		var (
			wm            models.Watermark
			date, updated int64
		)
		if err := rows.Scan(&wm.UserID, &date, &wm.ID, &wm.RequestID, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		wm.Date = fromUnixNano(date)
		wm.UpdatedAt = fromUnixNano(updated)
		watermarks = append(watermarks, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate watermarks: %w", err))
	}
	return watermarks, nil
}

// unixNano stores the zero time as 0 so it survives a round trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
