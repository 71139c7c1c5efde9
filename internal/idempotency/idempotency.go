// Package idempotency deduplicates commands by caller supplied request IDs.
//
// A command first claims its key. The first claim wins and runs the command;
// it then completes the key with the encoded response, or releases it when
// the command failed so the caller may retry. Later claims with the same key
// get the stored response back instead of running the command again.
//
// A claim is only leased. When its holder dies before completing it, the
// lease runs out and a retry takes the key over.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// Record is the stored state of one key.
type Record struct {
	Key  string
	Hash string
	// Done is set once the command completed; Response is then valid.
	Done      bool
	Response  []byte
	ExpiresAt time.Time
}

// Store persists idempotency keys.
type Store interface {
	// Claim reserves key for a request with the given hash until lease
	// elapses or the key is completed.
	//
	// It returns claimed=true when the caller should run the command. When
	// the key already completed it returns the record with claimed=false.
	// A key still being processed yields models.ErrRequestInFlight and a key
	// reused with a different hash yields models.ErrValidation.
	Claim(ctx context.Context, key, hash string, lease time.Duration) (rec Record, claimed bool, err error)

	// Complete stores the response for a claimed key and keeps it for ttl.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error

	// Release drops a claim so the command can be retried.
	Release(ctx context.Context, key string) error

	// Sweep deletes keys that expired before now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// PendingReleaser is implemented by stores owned by a single process. Claims
// still pending when the process starts were left behind by a crash.
type PendingReleaser interface {
	ReleasePending(ctx context.Context) (int, error)
}

// Key scopes a request ID to an operation and the acting user.
func Key(operation, userID, requestID string) string {
	return operation + ":" + userID + ":" + requestID
}

// Hash fingerprints a request so a reused key with a different payload is
// detected.
func Hash(request any) (string, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ResolveExisting applies the claim rules to a key that already exists.
func ResolveExisting(rec Record, hash string) (Record, bool, error) {
	if rec.Hash != hash {
		return Record{}, false, models.Validationf("request id %s was already used for a different request", requestID(rec.Key))
	}
	if !rec.Done {
		return Record{}, false, models.ErrRequestInFlight
	}
	return rec, false, nil
}

func requestID(key string) string {
	return key[strings.LastIndex(key, ":")+1:]
}
