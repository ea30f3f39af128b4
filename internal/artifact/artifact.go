// Package artifact renders authentication challenges as QR code images, one
// file per user.
package artifact

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/amoylab/botgate/internal/common/config"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Renderer writes QR PNGs under a directory served at a URL prefix
type Renderer struct {
	logger *zap.Logger
	dir    string
	prefix string
	size   int
}

// New creates the artifact directory if needed
func New(logger *zap.Logger, cfg config.ArtifactConfig) (*Renderer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	size := cfg.Size
	if size <= 0 {
		size = 256
	}
	return &Renderer{
		logger: logger.Named("artifact"),
		dir:    cfg.Dir,
		prefix: cfg.URLPrefix,
		size:   size,
	}, nil
}

// FileName derives the artifact name for userID. Distinct ids always give
// distinct names.
func FileName(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID)) + ".png"
}

// Dir returns the directory artifacts are written to
func (r *Renderer) Dir() string {
	return r.dir
}

// Path returns the file path of userID's artifact
func (r *Renderer) Path(userID string) string {
	return filepath.Join(r.dir, FileName(userID))
}

// URL returns where userID's artifact is served
func (r *Renderer) URL(userID string) string {
	return path.Join("/", r.prefix, FileName(userID))
}

// Render encodes challenge and replaces userID's artifact atomically
func (r *Renderer) Render(userID, challenge string) error {
	png, err := qrcode.Encode(challenge, qrcode.Medium, r.size)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".qr-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(png); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), r.Path(userID)); err != nil {
		return err
	}

	r.logger.Debug("challenge rendered",
		zap.String("user_id", userID),
		zap.String("path", r.Path(userID)))
	return nil
}

// Discard removes userID's artifact if present
func (r *Renderer) Discard(userID string) error {
	err := os.Remove(r.Path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
