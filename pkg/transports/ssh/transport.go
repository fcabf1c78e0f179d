// Package ssh writes rendered outputs to remote hosts over SFTP.
//
// A remote output is named by a URL of the form
//
//	ssh://[user[:password]@]host[:port]/absolute/path.nix
//
// Files are replaced atomically: the text is written to a temporary file in
// the target directory and renamed over the destination.
package ssh

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Scheme prefixes remote output locations.
const Scheme = "ssh://"

// Target is a parsed remote output location.
type Target struct {
	User     string
	Password string
	Host     string
	Port     int
	Path     string
}

// IsTarget reports whether an output names a remote location.
func IsTarget(output string) bool {
	return strings.HasPrefix(output, Scheme)
}

// ParseTarget parses an ssh:// output location. The path must be absolute.
func ParseTarget(raw string) (*Target, error) {
	if !IsTarget(raw) {
		return nil, fmt.Errorf("not an ssh target: %s", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ssh target: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("ssh target %s has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("ssh target %s has no path", raw)
	}

	t := &Target{
		Host: u.Hostname(),
		Port: 22,
		Path: path.Clean(u.Path),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port in ssh target: %s", p)
		}
		t.Port = port
	}
	if u.User != nil {
		t.User = u.User.Username()
		t.Password, _ = u.User.Password()
	}

	return t, nil
}

// Address returns host:port.
func (t *Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the target without its password.
func (t *Target) String() string {
	u := url.URL{Scheme: "ssh", Host: t.Address(), Path: t.Path}
	if t.User != "" {
		u.User = url.User(t.User)
	}
	return u.String()
}

// Join returns a target for name inside the directory t names.
func (t *Target) Join(name string) *Target {
	out := *t
	out.Path = path.Join(t.Path, name)
	return &out
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "read", "write")
	Op string

	// Host is the remote address
	Host string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	if e.Host == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Host + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
