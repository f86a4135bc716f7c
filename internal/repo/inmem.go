package repo

import (
	"context"
	"sync"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/fp"
)

type InMemoryDownloadRepo struct {
	mu        sync.RWMutex
	downloads data.Downloads
	nextID    int
}

func NewInMemoryDownloadRepo() *InMemoryDownloadRepo {
	return &InMemoryDownloadRepo{
		downloads: make(data.Downloads, 0),
		nextID:    1,
	}
}

var _ DownloadRepo = (*InMemoryDownloadRepo)(nil)

func (r *InMemoryDownloadRepo) List(ctx context.Context) (data.Downloads, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloads.Clone(), nil
}

func (r *InMemoryDownloadRepo) Get(ctx context.Context, id int) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.downloads {
		if d.Fingerprint == fprint {
			return d.Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemoryDownloadRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Fingerprint == "" {
		d.Fingerprint = fp.Fingerprint(d.Source, d.TargetPath)
	}
	for _, existing := range r.downloads {
		if existing.Fingerprint == d.Fingerprint {
			return nil, data.ErrConflict
		}
	}
	d.ID = r.nextID
	r.nextID++
	r.downloads = append(r.downloads, d)
	return d.Clone(), nil
}

func (r *InMemoryDownloadRepo) UpdateDesiredStatus(ctx context.Context, id int, status data.DownloadStatus) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	dl.DesiredStatus = status
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) SetStatus(ctx context.Context, id int, status data.DownloadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, err := r.findByID(id)
	if err != nil {
		return err
	}
	dl.Status = status
	return nil
}

func (r *InMemoryDownloadRepo) Update(ctx context.Context, id int, mutate func(*data.Download) error) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(dl); err != nil {
			return nil, err
		}
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, dl := range r.downloads {
		if dl.ID == id {
			r.downloads = append(r.downloads[:i], r.downloads[i+1:]...)
			return nil
		}
	}
	return data.ErrNotFound
}

func (r *InMemoryDownloadRepo) findByID(id int) (*data.Download, error) {
	for _, dl := range r.downloads {
		if dl.ID == id {
			return dl, nil
		}
	}
	return nil, data.ErrNotFound
}
