package session

import (
	"fmt"
	"os"
)

// Token is the permission context the session runs under. Other collaborators
// may swap it (impersonation); the record only keeps it for them.
type Token interface {
	fmt.Stringer
}

// ProcessToken identifies the credentials of the hosting process.
type ProcessToken struct {
	UID int
	GID int
}

// CurrentToken captures the process credentials.
func CurrentToken() ProcessToken {
	return ProcessToken{UID: os.Getuid(), GID: os.Getgid()}
}

func (p ProcessToken) String() string {
	return fmt.Sprintf("uid=%d gid=%d", p.UID, p.GID)
}
