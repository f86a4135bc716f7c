package repo

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/fp"
)

// PostgresRepo implements DownloadRepo backed by PostgreSQL.
// It expects a table `downloads` with a unique index on `fingerprint`.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepoFromEnv constructs a DSN using component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (downlink),
//	POSTGRES_USER (downlink), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded to handle special characters safely.
func NewPostgresRepoFromEnv() (*PostgresRepo, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "downlink")
	user := getenv("POSTGRES_USER", "downlink")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgresRepo(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS downloads (
    id SERIAL PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    target_path TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    total_bytes BIGINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    desired_status TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE
);
`)
	return err
}

const selectCols = `id,session_id,source,target_path,name,total_bytes,status,desired_status,created_at,fingerprint`

func (r *PostgresRepo) List(ctx context.Context) (data.Downloads, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectCols+` FROM downloads ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out data.Downloads
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id int) (*data.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE id=$1`, id)
	dl, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

func (r *PostgresRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE fingerprint=$1`, fprint)
	dl, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

func (r *PostgresRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	fprint := d.Fingerprint
	if fprint == "" {
		fprint = fp.Fingerprint(d.Source, d.TargetPath)
	}
	var id int
	err := r.db.QueryRowContext(ctx, `
INSERT INTO downloads (session_id,source,target_path,name,total_bytes,status,desired_status,created_at,fingerprint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING id
`, d.SessionID, d.Source, d.TargetPath, d.Name, d.TotalBytes, string(d.Status), string(d.DesiredStatus), d.CreatedAt, fprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, data.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *PostgresRepo) UpdateDesiredStatus(ctx context.Context, id int, status data.DownloadStatus) (*data.Download, error) {
	return r.Update(ctx, id, func(dl *data.Download) error {
		dl.DesiredStatus = status
		return nil
	})
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id int, status data.DownloadStatus) error {
	_, err := r.Update(ctx, id, func(dl *data.Download) error {
		dl.Status = status
		return nil
	})
	return err
}

// Update fetches, mutates and writes back under a row lock so concurrent
// reconciler and API updates serialize per record.
func (r *PostgresRepo) Update(ctx context.Context, id int, mutate func(*data.Download) error) (*data.Download, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		// Safe rollback when not committed
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE id=$1 FOR UPDATE`, id)
	cur, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}

	if *cur == *next {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return cur, nil
	}

	newFP := fp.Fingerprint(next.Source, next.TargetPath)
	if _, err := tx.ExecContext(ctx, `UPDATE downloads SET session_id=$1, source=$2, target_path=$3, name=$4, total_bytes=$5, status=$6, desired_status=$7, fingerprint=$8 WHERE id=$9`,
		next.SessionID, next.Source, next.TargetPath, next.Name, next.TotalBytes, string(next.Status), string(next.DesiredStatus), newFP, id); err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}

	row2 := tx.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE id=$1`, id)
	updated, err := scanDownload(row2)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

// Helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanDownload(rs rowScanner) (*data.Download, error) {
	var (
		id                                              int
		session, source, target, name, status, desired string
		total                                           int64
		created                                         time.Time
		fprint                                          string
	)
	if err := rs.Scan(&id, &session, &source, &target, &name, &total, &status, &desired, &created, &fprint); err != nil {
		return nil, err
	}
	return &data.Download{
		ID:            id,
		SessionID:     session,
		Source:        source,
		TargetPath:    target,
		Name:          name,
		TotalBytes:    total,
		Status:        data.DownloadStatus(status),
		DesiredStatus: data.DownloadStatus(desired),
		Fingerprint:   fprint,
		CreatedAt:     created,
	}, nil
}

func isUniqueViolation(err error) bool {
	// pgx stdlib returns error strings containing "duplicate key value violates unique constraint"
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
