package store

import "strings"

// maxNameLen is the maximum length of an entry name, per spec.md section 6.
const maxNameLen = 255

// ValidateName checks an entry name against the constraints in spec.md
// section 3 and 6: non-empty, at most 255 bytes, no '/' or NUL, and not
// "." or "..".
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return ErrInvalidName
	}
	if name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.IndexByte(name, '/') >= 0 || strings.IndexByte(name, 0) >= 0 {
		return ErrInvalidName
	}
	return nil
}
