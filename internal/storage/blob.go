package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mpataki/polyrun/internal/ctxlog"
	"github.com/mpataki/polyrun/internal/models"
)

// ErrBlobNotFound is returned for URIs the store does not hold
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore keeps file contents under a directory and indexes them in the
// blobs table. Blobs are addressed as polyrun:///<uuid>
type BlobStore struct {
	s   *Storage
	dir string
}

func (s *Storage) Blobs(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{s: s, dir: dir}, nil
}

// BlobURI returns the URI of the blob with the given id
func BlobURI(id string) string {
	return models.StoragePrefix + "/" + id
}

// parseBlobURI extracts the blob id from a polyrun:///<uuid> URI
func parseBlobURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, models.StoragePrefix)
	if !ok {
		return "", fmt.Errorf("not a storage uri: %s", uri)
	}
	rest = strings.TrimLeft(rest, "/")
	id, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("invalid blob uri %s: %w", uri, err)
	}
	return id.String(), nil
}

// Put copies r into a new blob and returns its URI
func (b *BlobStore) Put(ctx context.Context, r io.Reader) (string, error) {
	id := uuid.NewString()
	path := filepath.Join(b.dir, id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	uri := BlobURI(id)
	_, err = b.s.db.ExecContext(ctx,
		`INSERT INTO blobs (uri, path, size, created_at) VALUES (?, ?, ?, ?)`,
		uri, path, size, time.Now().UTC(),
	)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to index blob: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("stored blob",
		slog.String("uri", uri),
		slog.String("size", humanize.Bytes(uint64(size))),
	)
	return uri, nil
}

// PutFile stores the contents of the file at path
func (b *BlobStore) PutFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return b.Put(ctx, f)
}

// Get opens the blob for reading. The caller closes it
func (b *BlobStore) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	blob, err := b.Stat(ctx, uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(blob.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", uri, err)
	}
	return f, nil
}

// Stat returns the index entry of a blob
func (b *BlobStore) Stat(ctx context.Context, uri string) (*models.Blob, error) {
	id, err := parseBlobURI(uri)
	if err != nil {
		return nil, err
	}

	row := b.s.db.QueryRowContext(ctx,
		`SELECT uri, path, size, created_at FROM blobs WHERE uri = ?`, BlobURI(id),
	)
	var blob models.Blob
	if err := row.Scan(&blob.URI, &blob.Path, &blob.Size, &blob.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", uri, ErrBlobNotFound)
		}
		return nil, err
	}
	return &blob, nil
}

func (b *BlobStore) List(ctx context.Context) ([]*models.Blob, error) {
	rows, err := b.s.db.QueryContext(ctx,
		`SELECT uri, path, size, created_at FROM blobs ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blobs []*models.Blob
	for rows.Next() {
		var blob models.Blob
		if err := rows.Scan(&blob.URI, &blob.Path, &blob.Size, &blob.CreatedAt); err != nil {
			return nil, err
		}
		blobs = append(blobs, &blob)
	}
	return blobs, rows.Err()
}
