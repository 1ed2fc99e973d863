// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package files

import (
	"context"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/gestima"
)

var mon = monkit.Package()

// randReader provides the collision suffix entropy; swapped in tests.
var randReader io.Reader = crand.Reader

const (
	// hashChunkSize is the read granularity when hashing stored blobs.
	hashChunkSize = 4096
	// collisionTokenLen is the length of the random suffix on name collision.
	collisionTokenLen = 8

	// TempDirectory is the subdirectory whose records are stored with temp
	// status and are subject to expiry collection.
	TempDirectory = "temp"
)

// Config configures the file store.
type Config struct {
	Root       string        `help:"root directory of the upload tree" default:"uploads"`
	TempExpiry time.Duration `help:"age after which temp files are collected" default:"24h"`
}

// Store is the sole custodian of the on-disk upload tree and the file
// registry.
type Store struct {
	log    *zap.Logger
	db     DB
	config Config

	nowFn func() time.Time
}

// NewStore creates a file store rooted at config.Root.
func NewStore(log *zap.Logger, db DB, config Config) *Store {
	return &Store{log: log, db: db, config: config, nowFn: time.Now}
}

// TestingSetNow overrides the clock.
func (store *Store) TestingSetNow(nowFn func() time.Time) { store.nowFn = nowFn }

// Store validates, writes and registers an upload.
//
// The blob is written before the registry insert; if the insert fails the
// blob is removed again as a compensating action.
func (store *Store) Store(ctx context.Context, name string, content io.Reader, directory string, allowTypes []string, by string) (_ Record, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := SanitizeFilename(name); err != nil {
		return Record{}, err
	}
	typ, err := DetectType(name)
	if err != nil {
		return Record{}, err
	}
	if !allowed(typ, allowTypes) {
		return Record{}, ErrUnsupportedType.New("type %q is not allowed here", typ)
	}

	relPath, err := store.uniquePath(ctx, directory, name)
	if err != nil {
		return Record{}, err
	}
	absPath := filepath.Join(store.config.Root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return Record{}, Error.Wrap(err)
	}

	size, head, err := store.writeBlob(absPath, content, SizeCap(typ))
	if err != nil {
		return Record{}, err
	}
	if err := ValidateMagic(typ, head); err != nil {
		_ = os.Remove(absPath)
		return Record{}, err
	}

	hash, err := hashFile(absPath)
	if err != nil {
		_ = os.Remove(absPath)
		return Record{}, Error.Wrap(err)
	}

	status := gestima.FileActive
	if directory == TempDirectory {
		status = gestima.FileTemp
	}

	record, err := store.db.CreateRecord(ctx, Record{
		Hash:         hash,
		Path:         relPath,
		OriginalName: name,
		Size:         size,
		Type:         typ,
		Mime:         MimeFor(typ),
		Status:       status,
		Meta:         gestima.Meta{CreatedBy: by},
	})
	if err != nil {
		// compensating action: do not leave unregistered blobs behind
		_ = os.Remove(absPath)
		return Record{}, Error.Wrap(err)
	}

	store.log.Info("file stored",
		zap.Int64("file_id", record.ID),
		zap.String("path", record.Path),
		zap.String("type", record.Type),
		zap.Int64("size", record.Size),
		zap.String("by", by))
	return record, nil
}

// writeBlob streams content to absPath, enforcing the size cap and
// capturing the leading bytes for the magic check.
func (store *Store) writeBlob(absPath string, content io.Reader, sizeCap int64) (size int64, head []byte, err error) {
	dest, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(dest.Close()))
		if err != nil {
			_ = os.Remove(absPath)
		}
	}()

	head = make([]byte, 0, 16)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := content.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > sizeCap {
				return size, head, ErrTooLarge.New("exceeds %d byte cap", sizeCap)
			}
			if len(head) < cap(head) {
				take := cap(head) - len(head)
				if take > n {
					take = n
				}
				head = append(head, buf[:take]...)
			}
			if _, err := dest.Write(buf[:n]); err != nil {
				return size, head, Error.Wrap(err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return size, head, Error.Wrap(readErr)
		}
	}

	if size == 0 {
		return 0, head, ErrEmpty.New("upload has no content")
	}
	return size, head, nil
}

// uniquePath builds the relative storage path, suffixing the stem with a
// random token when the name collides on disk or in the registry.
func (store *Store) uniquePath(ctx context.Context, directory, name string) (string, error) {
	if directory == "" {
		directory = "loose"
	}

	relPath := path.Join(directory, name)
	taken, err := store.pathTaken(ctx, relPath)
	if err != nil {
		return "", err
	}
	if !taken {
		return relPath, nil
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	token := make([]byte, collisionTokenLen/2)
	if _, err := io.ReadFull(randReader, token); err != nil {
		return "", Error.Wrap(err)
	}
	return path.Join(directory, fmt.Sprintf("%s_%s%s", stem, hex.EncodeToString(token), ext)), nil
}

func (store *Store) pathTaken(ctx context.Context, relPath string) (bool, error) {
	if _, err := os.Stat(filepath.Join(store.config.Root, filepath.FromSlash(relPath))); err == nil {
		return true, nil
	}
	exists, err := store.db.PathExists(ctx, relPath)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return exists, nil
}

// hashFile computes the SHA-256 of a file in fixed-size chunks.
func hashFile(absPath string) (_ string, err error) {
	file, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			_, _ = hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Link attaches a file to an entity. A primary link demotes every other live
// link of the same (entity, link type).
func (store *Store) Link(ctx context.Context, fileID int64, entityType gestima.EntityType, entityID int64, isPrimary bool, revision string, linkType gestima.LinkType, by string) (_ Link, err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := store.db.GetRecord(ctx, fileID)
	if err != nil {
		return Link{}, err
	}

	link, err := store.db.UpsertLink(ctx, Link{
		FileID:     record.ID,
		EntityType: entityType,
		EntityID:   entityID,
		IsPrimary:  isPrimary,
		Revision:   revision,
		LinkType:   linkType,
		Meta:       gestima.Meta{CreatedBy: by},
	})
	if err != nil {
		return Link{}, Error.Wrap(err)
	}

	store.log.Info("file linked",
		zap.Int64("file_id", fileID),
		zap.String("entity_type", string(entityType)),
		zap.Int64("entity_id", entityID),
		zap.Bool("primary", isPrimary),
		zap.String("by", by))
	return link, nil
}

// Unlink tombstones a link. The survivor links are not re-promoted.
func (store *Store) Unlink(ctx context.Context, fileID int64, entityType gestima.EntityType, entityID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return store.db.SoftDeleteLink(ctx, fileID, entityType, entityID, by)
}

// Delete tombstones a record. The blob stays on disk.
func (store *Store) Delete(ctx context.Context, fileID int64, by string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := store.db.GetRecord(ctx, fileID); err != nil {
		return err
	}
	if err := store.db.SoftDeleteRecord(ctx, fileID, by); err != nil {
		return Error.Wrap(err)
	}

	store.log.Info("file deleted", zap.Int64("file_id", fileID), zap.String("by", by))
	return nil
}

// ForEntity lists live files attached to an entity, optionally filtered by
// link type.
func (store *Store) ForEntity(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) ([]Entry, error) {
	return store.db.ForEntity(ctx, entityType, entityID, linkType)
}

// Primary returns the primary file of the given link type, defaulting to the
// drawing.
func (store *Store) Primary(ctx context.Context, entityType gestima.EntityType, entityID int64, linkType gestima.LinkType) (Entry, bool, error) {
	if linkType == "" {
		linkType = gestima.LinkDrawing
	}
	return store.db.Primary(ctx, entityType, entityID, linkType)
}

// Orphans lists non-temp records with no live link.
func (store *Store) Orphans(ctx context.Context) ([]Record, error) {
	return store.db.Orphans(ctx)
}

// CleanupTemp collects temp records older than the configured expiry. This
// is the only path that removes blobs from disk.
func (store *Store) CleanupTemp(ctx context.Context) (collected int, err error) {
	defer mon.Task()(&ctx)(&err)

	cutoff := store.nowFn().Add(-store.config.TempExpiry)
	expired, err := store.db.TempOlderThan(ctx, cutoff)
	if err != nil {
		return 0, Error.Wrap(err)
	}

	for _, record := range expired {
		if err := store.db.SoftDeleteRecord(ctx, record.ID, "system"); err != nil {
			return collected, Error.Wrap(err)
		}
		absPath := filepath.Join(store.config.Root, filepath.FromSlash(record.Path))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			store.log.Warn("temp blob removal failed",
				zap.String("path", record.Path), zap.Error(err))
		}
		collected++
	}

	if collected > 0 {
		store.log.Info("temp files collected", zap.Int("count", collected))
	}
	return collected, nil
}

// ServeInfo describes how to stream a stored file to a client.
type ServeInfo struct {
	Name        string
	Mime        string
	Size        int64
	Disposition string
}

// Serve opens a stored blob for streaming. It fails with ErrMissing when the
// registry row is live but the blob is gone.
func (store *Store) Serve(ctx context.Context, fileID int64) (_ ServeInfo, _ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := store.db.GetRecord(ctx, fileID)
	if err != nil {
		return ServeInfo{}, nil, err
	}

	absPath := filepath.Join(store.config.Root, filepath.FromSlash(record.Path))
	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ServeInfo{}, nil, ErrMissing.New("file %d at %q", fileID, record.Path)
		}
		return ServeInfo{}, nil, Error.Wrap(err)
	}

	return ServeInfo{
		Name:        record.OriginalName,
		Mime:        record.Mime,
		Size:        record.Size,
		Disposition: fmt.Sprintf("inline; filename=%q", record.OriginalName),
	}, file, nil
}

// AbsolutePath maps a record path to its on-disk location.
func (store *Store) AbsolutePath(record Record) string {
	return filepath.Join(store.config.Root, filepath.FromSlash(record.Path))
}
