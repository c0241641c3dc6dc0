package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/storage"
	"bitwise74/school-api/pkg/validators"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const uploadTimeout = time.Minute

type Uploader struct {
	store storage.ObjectStore
}

func NewUploader(s storage.ObjectStore) *Uploader {
	return &Uploader{store: s}
}

func objectKey(prefix, name string) (string, error) {
	id, err := model.NewID()
	if err != nil {
		return "", err
	}

	name = strings.ReplaceAll(path.Base(name), " ", "_")
	return fmt.Sprintf("%s/%s-%s", prefix, id, name), nil
}

// Upload stores every file in parallel and returns one attachment per file.
// If any upload fails the others are cancelled and the ones that already
// landed are removed again. Files are closed in all cases.
func (u *Uploader) Upload(ctx context.Context, prefix string, files []*validators.CheckedFile) ([]model.HomeworkAttachment, error) {
	defer validators.CloseAll(files)

	if len(files) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	p := pool.NewWithResults[model.HomeworkAttachment]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(3)

	for _, f := range files {
		p.Go(func(ctx context.Context) (model.HomeworkAttachment, error) {
			key, err := objectKey(prefix, f.Name)
			if err != nil {
				return model.HomeworkAttachment{}, err
			}

			url, err := u.store.Put(ctx, key, f.File, f.Size, f.MimeType)
			if err != nil {
				return model.HomeworkAttachment{}, err
			}

			return model.HomeworkAttachment{
				FileURL:  url,
				FileKey:  key,
				FileName: f.Name,
				FileType: f.MimeType,
				FileSize: f.Size,
			}, nil
		})
	}

	uploaded, err := p.Wait()
	if err != nil {
		u.Remove(context.Background(), uploaded)
		return nil, err
	}

	return uploaded, nil
}

// Remove deletes the stored objects of attachments. Failures are only logged.
func (u *Uploader) Remove(ctx context.Context, attachments []model.HomeworkAttachment) {
	for _, a := range attachments {
		if a.FileKey == "" {
			continue
		}

		if err := u.store.Delete(ctx, a.FileKey); err != nil {
			zap.L().Error("Failed to clean up attachment", zap.String("key", a.FileKey), zap.Error(err))
		} else {
			zap.L().Debug("Cleaned up attachment", zap.String("key", a.FileKey))
		}
	}
}
