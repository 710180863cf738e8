package mount

import (
	"errors"
	"path/filepath"
	"strings"

	"quacwatch/internal/config"
)

// DefaultVersions are tried in order when a share does not pin vers.
var DefaultVersions = []string{"3.1.1", "3.0", "2.1"}

// Spec describes one share to mount.
type Spec struct {
	Name       string
	Host       string
	Share      string
	Mountpoint string
	Username   string
	Password   string
	Domain     string
	Vers       string
	FileMode   string
	DirMode    string
	ExtraOpts  []string
}

// SpecFromConfig resolves a configured share, reading password_env when the
// inline password is empty.
func SpecFromConfig(share config.Share) Spec {
	spec := Spec{
		Name:       strings.TrimSpace(share.Name),
		Host:       strings.TrimSpace(share.Host),
		Share:      strings.Trim(strings.TrimSpace(share.Share), "/"),
		Mountpoint: strings.TrimSpace(share.Mountpoint),
		Username:   strings.TrimSpace(share.Username),
		Password:   share.SharePassword(),
		Domain:     strings.TrimSpace(share.Domain),
		Vers:       strings.TrimSpace(share.Vers),
		FileMode:   strings.TrimSpace(share.FileMode),
		DirMode:    strings.TrimSpace(share.DirMode),
	}
	for _, opt := range strings.Split(share.ExtraOpts, ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			spec.ExtraOpts = append(spec.ExtraOpts, opt)
		}
	}
	if spec.FileMode == "" {
		spec.FileMode = "0664"
	}
	if spec.DirMode == "" {
		spec.DirMode = "0775"
	}
	if spec.Mountpoint != "" {
		spec.Mountpoint = filepath.Clean(spec.Mountpoint)
	}
	return spec
}

// DisplayName returns the configured name or share@host.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Share + "@" + s.Host
}

// Source returns the UNC-style device string for mount.
func (s Spec) Source() string {
	return "//" + s.Host + "/" + s.Share
}

// Versions returns the protocol versions to try.
func (s Spec) Versions() []string {
	if s.Vers != "" {
		return []string{s.Vers}
	}
	return append([]string(nil), DefaultVersions...)
}

// Validate checks the required fields.
func (s Spec) Validate() error {
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"host", s.Host},
		{"share", s.Share},
		{"mountpoint", s.Mountpoint},
		{"username", s.Username},
		{"password", s.Password},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return errors.New("share is missing " + strings.Join(missing, ", "))
	}
	return nil
}

// options builds the mount -o value for one protocol version.
func (s Spec) options(uid, gid int, credentialsPath, vers string) string {
	opts := []string{
		"uid=" + itoa(uid),
		"gid=" + itoa(gid),
		"iocharset=utf8",
		"file_mode=" + s.FileMode,
		"dir_mode=" + s.DirMode,
	}
	opts = append(opts, s.ExtraOpts...)
	opts = append(opts, "credentials="+credentialsPath, "vers="+vers)
	return strings.Join(opts, ",")
}

// IsSubpath reports whether path equals root or lies below it.
func IsSubpath(path, root string) bool {
	if path == "" || root == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
