package passes

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/pkg/storage"
)

// Archive keeps a copy of each rendered pass in S3 so the artifact
// can be re-downloaded after the scan.
type Archive struct {
	s3     *storage.S3
	logger *zap.Logger
}

// NewArchive creates a pass archive backed by S3.
func NewArchive(s3 *storage.S3, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{s3: s3, logger: logger}
}

// ArchivePass uploads the rendered artifact and returns a pre-signed
// download URL for it.
func (a *Archive) ArchivePass(ctx context.Context, reg *models.Registration, data []byte, contentType string) (string, error) {
	key := storage.PassKey(string(reg.Role), reg.ID.String())
	if _, err := a.s3.Upload(ctx, a.s3.PassesBucket(), key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	url, err := a.s3.GeneratePresignedDownloadURL(ctx, a.s3.PassesBucket(), key, a.s3.PresignExpire())
	if err != nil {
		return "", err
	}
	a.logger.Debug("entry pass archived", zap.String("key", key))
	return url, nil
}
