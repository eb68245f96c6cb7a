//go:build !unix

package session

func processSessionID() int {
	return -1
}
