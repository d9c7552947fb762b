package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// encodeRecord serializes an InodeRecord for storage. JSON, following
// the same choice rclone's cache backend makes for its bbolt values
// (backend/cache/storage_persistent.go: json.Marshal/json.Unmarshal
// around bucket.Put/Get) — there is no cross-process wire-compatibility
// requirement here, only on-disk stability across restarts of the same
// binary, which JSON's stable field set satisfies.
func encodeRecord(r *InodeRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, WrapIoError("encode_record", err)
	}
	return b, nil
}

func decodeRecord(b []byte) (*InodeRecord, error) {
	var r InodeRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, WrapIoError("decode_record", err)
	}
	return &r, nil
}

func decodeRecordFrom(inodes *bolt.Bucket, ino uint64) (*InodeRecord, error) {
	v := inodes.Get(inoKey(ino))
	if v == nil {
		return nil, ErrNotFound
	}
	return decodeRecord(v)
}
