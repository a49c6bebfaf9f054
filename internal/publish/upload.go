package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/layer"
	"resty.dev/v3"
)

// DefaultTimeout bounds a single upload.
const DefaultTimeout = 5 * time.Minute

// Receipt describes a completed upload.
type Receipt struct {
	BuildID string
	Layer   string
	Digest  string
	Files   int
	Size    int64
	SHA256  string
	Status  string
}

// Uploader PUTs archives to pre-signed URLs.
type Uploader struct {
	client *resty.Client
}

// NewUploader creates an uploader with the given per-request timeout.
func NewUploader(timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{client: resty.New().SetTimeout(timeout)}
}

// Close releases idle connections.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// Upload sends body to url. Any non-2xx status is an error.
func (u *Uploader) Upload(ctx context.Context, url string, body []byte) (string, error) {
	res, err := u.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", ContentType).
		SetBody(body).
		Put(url)
	if err != nil {
		return "", fmt.Errorf("failed to execute upload request: %w", err)
	}
	if res.IsError() || res.StatusCode() >= 300 {
		return res.Status(), fmt.Errorf("upload failed with status: %s", res.Status())
	}
	return res.Status(), nil
}

// Layer archives a sealed layer and uploads it. Paths in exclude are
// relative to the layer directory.
func (u *Uploader) Layer(ctx context.Context, l *layer.Layer, url string, exclude ...string) (*Receipt, error) {
	logger := ctxlog.FromContext(ctx).With("build_id", l.BuildID, "layer", l.Name)
	if !l.Ready() {
		return nil, fmt.Errorf("publish %s: %w", l.BuildID, layer.ErrNotReady)
	}

	var buf bytes.Buffer
	files, err := Archive(ctx, l.Dir, &buf, exclude...)
	if err != nil {
		return nil, fmt.Errorf("failed to archive layer: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	r := &Receipt{
		BuildID: l.BuildID,
		Layer:   l.Name,
		Digest:  l.Digest(),
		Files:   files,
		Size:    int64(buf.Len()),
		SHA256:  hex.EncodeToString(sum[:]),
	}

	logger.Info("📤 Uploading artifact.", "files", files, "size", r.Size, "name", ArchiveName(l))
	status, err := u.Upload(ctx, url, buf.Bytes())
	r.Status = status
	if err != nil {
		return r, err
	}
	logger.Info("✅ Artifact uploaded.", "status", status, "sha256", r.SHA256)
	return r, nil
}

// ArchiveName is the conventional file name of a layer archive.
func ArchiveName(l *layer.Layer) string {
	return path.Base(l.Name) + "-" + l.BuildID + ".tar.gz"
}
