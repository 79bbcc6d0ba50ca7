package patann

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/mesibo/patann/blobstore"
	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/persist"
)

// backupFiles lists the index files in the order they are copied. The
// manifest goes last so a backup with a manifest is complete.
var backupFiles = []string{persist.LogFile, persist.SnapshotFile, persist.ManifestFile}

// Backup flushes an on-disk index and copies its files to bs under
// prefix/<backup id>. It returns that location for RestoreOnDiskIndex.
// Inserts and queries wait while the files are copied.
func (idx *Index) Backup(ctx context.Context, bs blobstore.BlobStore, prefix string) (string, error) {
	if idx.layout == nil {
		return "", invalidConfig("backup requires an on-disk index")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.destroyed.Load() {
		return "", ErrIndexDestroyed
	}
	if err := idx.flush(ctx); err != nil {
		return "", err
	}

	location := path.Join(prefix, uuid.NewString())
	present := idx.layout.Files()
	var total int64
	for _, name := range backupFiles {
		if !slices.Contains(present, name) {
			continue
		}
		n, err := uploadFile(ctx, bs, idx.layout.FS(), filepath.Join(idx.layout.Dir(), name), path.Join(location, name))
		if err != nil {
			return "", storageError("backup "+name, err)
		}
		total += n
	}

	idx.logger.Info("index backed up", "location", location, "bytes", total)
	return location, nil
}

func uploadFile(ctx context.Context, bs blobstore.BlobStore, fsys fs.FileSystem, src, key string) (int64, error) {
	f, err := fsys.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return blobstore.Upload(ctx, bs, key, f)
}

// RestoreOnDiskIndex copies the backup at location into index name under
// dir and opens it. The target must not hold an index yet.
func RestoreOnDiskIndex(ctx context.Context, bs blobstore.BlobStore, location, dir, name string, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	layout, err := persist.NewLayout(o.fs, dir, name)
	if err != nil {
		return nil, translateError(err)
	}
	if layout.Exists() {
		return nil, fmt.Errorf("%w: index %s", ErrAlreadyExists, layout.Dir())
	}

	keys, err := bs.List(ctx, location+"/")
	if err != nil {
		return nil, storageError("list backup", err)
	}
	if !slices.Contains(keys, path.Join(location, persist.ManifestFile)) {
		return nil, fmt.Errorf("%w: no backup at %q", ErrNotFound, location)
	}

	if err := layout.Create(); err != nil {
		return nil, storageError("create index directory", err)
	}
	for _, file := range backupFiles {
		key := path.Join(location, file)
		if !slices.Contains(keys, key) {
			continue
		}
		err := fs.WriteAtomic(layout.FS(), filepath.Join(layout.Dir(), file), func(w io.Writer) error {
			_, err := blobstore.Download(ctx, bs, key, w)
			return err
		})
		if err != nil {
			_ = layout.Remove()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, storageError("restore "+file, err)
		}
	}

	m, err := layout.ReadManifest()
	if err != nil {
		_ = layout.Remove()
		return nil, storageError("read restored manifest", err)
	}
	return CreateOnDiskIndex(m.Dimension, dir, name, optFns...)
}
