// Package mount ensures CIFS network shares are mounted before watch targets
// that live on them are scanned.
//
// Mounting requires root plus the mount and mount.cifs helpers. Each share is
// checked for reachability first (ping and TCP 445), an existing healthy mount
// is reused, and protocol versions are tried in descending order. Credentials
// are passed through a private temporary file that is always removed.
package mount
