package store

import "strings"

// Path reconstructs the slash-separated path of ino relative to RootIno
// by walking InodeRecord.Parent links, per spec.md section 4.4 ("The
// path for an ino is reconstructed by walking parent links in the
// store"). Returns "" for RootIno itself.
//
// This walk is bounded by the tree's depth, not by any cycle-detection
// counter: Parent links are only ever set by Emplace, which always
// points a freshly allocated child at an already-existing parent, so
// the chain cannot loop back on itself.
func (t *RoTxn) Path(ino uint64) (string, error) {
	var segments []string
	for ino != RootIno {
		rec, err := t.GetAttr(ino)
		if err != nil {
			return "", err
		}
		if rec.Parent == InvalidIno && rec.Ino != RootIno {
			return "", ErrCorruptStore
		}
		segments = append(segments, rec.Name)
		ino = rec.Parent
	}
	if len(segments) == 0 {
		return "", nil
	}
	// segments were collected child-to-root; reverse to root-to-child.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/"), nil
}
