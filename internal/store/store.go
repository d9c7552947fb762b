package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Store is a persistent, transactional mapping from inode number to
// inode record, plus the directory-entry indexes, described in spec.md
// section 4.1. It owns a single bbolt database file.
//
// A Store is safe for concurrent use: bbolt serializes writers and lets
// readers run concurrently with a writer, which is exactly the RO/RW
// split spec.md asks for.
type Store struct {
	db   *bolt.DB
	path string
}

// Initialize opens or creates a persistent store rooted at path (a
// directory; the database file lives at path/inodes.db, mirroring the
// root_dir-plus-file-name layout of rclone's Persistent.connect). It
// creates RootIno if absent, with mode 0755|S_IFDIR and the calling
// process's uid/gid, times set to now.
func Initialize(dir string, uid, gid uint32, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, WrapIoError("mkdir", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "inodes.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, WrapIoError("open", err)
	}

	s := &Store{db: db, path: dir}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketInodes)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDirents)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDirentsByIno)); err != nil {
			return err
		}

		if v := meta.Get([]byte(keySchemaVersion)); v == nil {
			vb := make([]byte, 4)
			binary.BigEndian.PutUint32(vb, SchemaVersion)
			if err := meta.Put([]byte(keySchemaVersion), vb); err != nil {
				return err
			}
		} else if binary.BigEndian.Uint32(v) != SchemaVersion {
			return ErrCorruptStore
		}

		if meta.Get([]byte(keyNextIno)) == nil {
			nb := make([]byte, 8)
			binary.BigEndian.PutUint64(nb, RootIno+1)
			if err := meta.Put([]byte(keyNextIno), nb); err != nil {
				return err
			}
		}

		inodes := tx.Bucket([]byte(bucketInodes))
		if inodes.Get(inoKey(RootIno)) == nil {
			root := InodeRecord{
				Ino:   RootIno,
				Kind:  KindDirectory,
				Mode:  0o755 | syscall.S_IFDIR,
				Uid:   uid,
				Gid:   gid,
				Atime: FromTime(now()),
				Mtime: FromTime(now()),
				Ctime: FromTime(now()),
			}
			enc, err := encodeRecord(&root)
			if err != nil {
				return err
			}
			if err := inodes.Put(inoKey(RootIno), enc); err != nil {
				return err
			}
		} else {
			rec, err := decodeRecordFrom(inodes, RootIno)
			if err != nil {
				return err
			}
			if rec.Kind != KindDirectory {
				return errors.Wrap(ErrCorruptStore, "root inode is not a directory")
			}
		}

		return nil
	}); err != nil {
		db.Close()
		if errors.Is(err, ErrCorruptStore) {
			return nil, err
		}
		return nil, WrapIoError("initialize", err)
	}

	return s, nil
}

// Close releases the underlying database file. Safe to call once.
func (s *Store) Close() error {
	return WrapIoError("close", s.db.Close())
}

// Compact copies the store into a fresh file via bolt.Tx.CopyFile and
// renames that copy over the original. The copy is page for page up to
// the database's high-water mark: pages freed by removeInodeRecursive
// and RemoveEntryIfAbsentUnderSynced are carried over as free pages, so
// only file space past the high-water mark is dropped; the data is not
// rewritten more densely.
//
// The staging file is named with a random UUID rather than a fixed
// name so two Compact calls (or a crash mid-compact leaving a stale
// staging file behind) never collide.
func (s *Store) Compact() error {
	stagingPath := filepath.Join(s.path, "inodes.compact."+uuid.NewString()+".db")
	defer os.Remove(stagingPath)

	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(stagingPath, 0o600)
	}); err != nil {
		return WrapIoError("compact_copy", err)
	}

	finalPath := s.db.Path()
	if err := s.db.Close(); err != nil {
		return WrapIoError("compact_close", err)
	}
	if err := os.Rename(stagingPath, finalPath); err != nil {
		return WrapIoError("compact_rename", err)
	}

	db, err := bolt.Open(finalPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return WrapIoError("compact_reopen", err)
	}
	s.db = db
	return nil
}

// BeginRO starts a read-only transaction. Multiple RO transactions may
// be outstanding concurrently.
func (s *Store) BeginRO() (*RoTxn, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, WrapIoError("begin_ro", err)
	}
	return &RoTxn{tx: tx}, nil
}

// BeginRW starts an exclusive read-write transaction. Only one RW
// transaction may be outstanding at a time; callers block until any
// prior one commits or rolls back.
func (s *Store) BeginRW() (*RwTxn, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, WrapIoError("begin_rw", err)
	}
	return &RwTxn{RoTxn: RoTxn{tx: tx}}, nil
}
