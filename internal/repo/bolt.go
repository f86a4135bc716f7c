package repo

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/fp"
)

const (
	downloadsBucket = "downloads"
	metadataBucket  = "metadata"
	schemaVersion   = 1
)

// BoltRepo implements DownloadRepo backed by an embedded bbolt database,
// for single-node deployments that want persistence without Postgres.
type BoltRepo struct {
	db *bbolt.DB
}

func NewBoltRepo(dbPath string) (*BoltRepo, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r := &BoltRepo{db: db}
	if err := r.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

var _ DownloadRepo = (*BoltRepo)(nil)

func (r *BoltRepo) Close() error { return r.db.Close() }

func (r *BoltRepo) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket)); err != nil {
			return fmt.Errorf("create downloads bucket: %w", err)
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("create metadata bucket: %w", err)
		}
		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

func itob(id int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (r *BoltRepo) List(ctx context.Context) (data.Downloads, error) {
	var out data.Downloads
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).ForEach(func(_, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec.toDownload())
			return nil
		})
	})
	return out, err
}

func (r *BoltRepo) Get(ctx context.Context, id int) (*data.Download, error) {
	var dl *data.Download
	err := r.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(downloadsBucket)).Get(itob(id))
		if v == nil {
			return data.ErrNotFound
		}
		var rec boltRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		dl = rec.toDownload()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

func (r *BoltRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error) {
	var found *data.Download
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).ForEach(func(_, v []byte) error {
			var dl boltRecord
			if err := json.Unmarshal(v, &dl); err != nil {
				return err
			}
			if dl.Fingerprint == fprint {
				found = dl.toDownload()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, data.ErrNotFound
	}
	return found, nil
}

func (r *BoltRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	if d.Fingerprint == "" {
		d.Fingerprint = fp.Fingerprint(d.Source, d.TargetPath)
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		var dup bool
		_ = bucket.ForEach(func(_, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err == nil && rec.Fingerprint == d.Fingerprint {
				dup = true
			}
			return nil
		})
		if dup {
			return data.ErrConflict
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		d.ID = int(seq)
		return putDownload(bucket, d)
	})
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

func (r *BoltRepo) UpdateDesiredStatus(ctx context.Context, id int, status data.DownloadStatus) (*data.Download, error) {
	return r.Update(ctx, id, func(dl *data.Download) error {
		dl.DesiredStatus = status
		return nil
	})
}

func (r *BoltRepo) SetStatus(ctx context.Context, id int, status data.DownloadStatus) error {
	_, err := r.Update(ctx, id, func(dl *data.Download) error {
		dl.Status = status
		return nil
	})
	return err
}

func (r *BoltRepo) Update(ctx context.Context, id int, mutate func(*data.Download) error) (*data.Download, error) {
	var out *data.Download
	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		v := bucket.Get(itob(id))
		if v == nil {
			return data.ErrNotFound
		}
		var rec boltRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		dl := rec.toDownload()
		if mutate != nil {
			if err := mutate(dl); err != nil {
				return err
			}
		}
		dl.Fingerprint = fp.Fingerprint(dl.Source, dl.TargetPath)
		if err := putDownload(bucket, dl); err != nil {
			return err
		}
		out = dl.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BoltRepo) Delete(ctx context.Context, id int) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		if bucket.Get(itob(id)) == nil {
			return data.ErrNotFound
		}
		return bucket.Delete(itob(id))
	})
}

// boltRecord is the stored form; it round-trips the fields the JSON API
// hides (session binding, fingerprint).
type boltRecord struct {
	data.Download
	SessionID   string `json:"sessionId"`
	Fingerprint string `json:"fingerprint"`
}

func (rec *boltRecord) toDownload() *data.Download {
	dl := rec.Download
	dl.SessionID = rec.SessionID
	dl.Fingerprint = rec.Fingerprint
	return &dl
}

func putDownload(bucket *bbolt.Bucket, d *data.Download) error {
	rec := boltRecord{Download: *d, SessionID: d.SessionID, Fingerprint: d.Fingerprint}
	buf, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return bucket.Put(itob(d.ID), buf)
}
