//go:build unix

package session

import "golang.org/x/sys/unix"

func processSessionID() int {
	sid, err := unix.Getsid(0)
	if err != nil {
		return -1
	}
	return sid
}
