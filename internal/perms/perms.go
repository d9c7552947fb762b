// Package perms resolves the uid/gid of the running process, used to
// stamp the root inode.
package perms

import (
	"os/user"
	"strconv"
)

// MyUserAndGroup returns the running process's uid and gid.
func MyUserAndGroup() (uid uint32, gid uint32, err error) {
	u, err := user.Current()
	if err != nil {
		return 0, 0, err
	}

	uidN, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	gidN, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, err
	}

	return uint32(uidN), uint32(gidN), nil
}
