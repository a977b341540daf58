package media

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/vrsandeep/comicvault/internal/util"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".svg": true, ".bmp": true,
}

// DefaultExtension is used when a URL carries no recognised image extension.
const DefaultExtension = ".jpg"

// IsRemote reports whether ref is an http(s) URL.
func IsRemote(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// InferExtension returns the lower-cased image extension of the URL's path,
// ignoring query and fragment, or DefaultExtension.
func InferExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if imageExtensions[ext] {
		return ext
	}
	return DefaultExtension
}

// ContentFilename derives a stable file name from the URL: the first 32 hex
// characters of its SHA-256 plus the inferred extension.
func ContentFilename(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:32] + InferExtension(rawURL)
}

// Resolver maps media references to public paths and disk locations under
// a single media root.
type Resolver struct {
	root       string
	uploadsDir string
}

func NewResolver(root, uploadsDir string) *Resolver {
	uploadsDir = strings.Trim(filepath.ToSlash(uploadsDir), "/")
	if uploadsDir == "" {
		uploadsDir = "uploads"
	}
	return &Resolver{root: filepath.Clean(root), uploadsDir: uploadsDir}
}

func (r *Resolver) Root() string { return r.root }

// UploadsPath is the disk directory holding downloaded assets.
func (r *Resolver) UploadsPath() string {
	return filepath.Join(r.root, filepath.FromSlash(r.uploadsDir))
}

// Upload returns where a downloaded copy of rawURL lives on disk and the
// public path it is served under.
func (r *Resolver) Upload(rawURL string) (diskPath, publicPath string) {
	name := ContentFilename(rawURL)
	return filepath.Join(r.UploadsPath(), name), "/" + r.uploadsDir + "/" + name
}

// EntityImage returns the public path of a locally authored asset that
// belongs to a single entity, e.g. /images/comics/one-piece/cover.jpg.
func (r *Resolver) EntityImage(kind, slug, name string) string {
	return "/images/" + util.SanitizePathSegment(kind) + "/" + util.SanitizePathSegment(slug) + "/" + util.SanitizeFilename(name)
}

// DiskPath maps a public path to its location under the root.
func (r *Resolver) DiskPath(publicPath string) (string, error) {
	return util.SafeJoin(r.root, publicPath)
}
