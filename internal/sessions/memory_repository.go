package sessions

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
)

type memoryRecord struct {
	Key     string
	Record  []byte
	Expires int64 // unix nanoseconds
}

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"records": {
			Name: "records",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

// MemoryRepository keeps records in process memory using hashicorp/go-memdb.
// Single-instance deployments and tests only.
type MemoryRepository struct {
	db  *memdb.MemDB
	now func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, err
	}
	return &MemoryRepository{db: db, now: time.Now}, nil
}

func (m *MemoryRepository) Load(_ context.Context, key string) ([]byte, error) {
	txn := m.db.Txn(false)
	obj, err := txn.First("records", "id", key)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	rec := obj.(*memoryRecord)
	if rec.Expires <= m.now().UnixNano() {
		return nil, nil
	}
	return rec.Record, nil
}

func (m *MemoryRepository) Save(_ context.Context, key string, record []byte, ttl time.Duration) error {
	rec := &memoryRecord{
		Key:     key,
		Record:  append([]byte(nil), record...),
		Expires: m.now().Add(ttl).UnixNano(),
	}
	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("records", rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, key string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll("records", "id", key); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// TerminateExpired removes every expired record and returns how many were removed.
func (m *MemoryRepository) TerminateExpired(_ context.Context) (int, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	// no expiry index; the table is small enough to scan
	it, err := txn.Get("records", "id")
	if err != nil {
		return 0, err
	}

	now := m.now().UnixNano()
	var expired []*memoryRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if rec := obj.(*memoryRecord); rec.Expires <= now {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		if err := txn.Delete("records", rec); err != nil {
			return 0, err
		}
	}

	txn.Commit()
	return len(expired), nil
}
