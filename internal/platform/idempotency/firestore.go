package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore implements Store on a Firestore collection, reserving keys inside transactions.
type FirestoreStore struct {
	base *pfirestore.BaseRepository[firestoreRecord]
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{base: pfirestore.NewBaseRepository[firestoreRecord](provider, collection)}
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	var reservation Reservation
	_, err := s.base.Transact(ctx, recordID(key), func(current *firestoreRecord) (firestoreRecord, error) {
		var existing *Record
		if current != nil {
			record := current.toRecord()
			existing = &record
		}
		record, res, err := reserveRecord(existing, key, fingerprint, now.UTC(), normalizeTTL(ttl))
		if err != nil {
			return firestoreRecord{}, err
		}
		reservation = res
		return fromRecord(record), nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	_, err := s.base.Transact(ctx, recordID(key), func(current *firestoreRecord) (firestoreRecord, error) {
		var existing *Record
		if current != nil {
			record := current.toRecord()
			existing = &record
		}
		record, err := completeRecord(existing, key, fingerprint, resp, now.UTC(), normalizeTTL(ttl))
		if err != nil {
			return firestoreRecord{}, err
		}
		return fromRecord(record), nil
	})
	return err
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	return s.base.Delete(ctx, recordID(key))
}

// CleanupExpired removes up to limit expired records.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if err := s.base.Delete(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
