// Package homework contains homework assignment, submission and grading
package homework

import (
	"errors"
	"mime/multipart"

	"bitwise74/school-api/internal"
	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/storage"
	"bitwise74/school-api/pkg/apperr"
	"bitwise74/school-api/pkg/validators"

	"github.com/gin-gonic/gin"
)

const attachmentsField = "attachments"

func formFiles(c *gin.Context) []*multipart.FileHeader {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}

	return form.File[attachmentsField]
}

// uploadAttachments validates and stores the attachments of the request
// under prefix. The caller owns removing them again if it fails later.
func uploadAttachments(c *gin.Context, d *internal.Deps, prefix string) ([]model.HomeworkAttachment, error) {
	fhs := formFiles(c)
	if len(fhs) == 0 {
		return nil, nil
	}

	files, err := validators.FilesValidator(fhs)
	if err != nil {
		switch {
		case errors.Is(err, validators.ErrTooManyFiles),
			errors.Is(err, validators.ErrFileTooLarge),
			errors.Is(err, validators.ErrFileNameTooLong),
			errors.Is(err, validators.ErrFileTypeUnsupported):
			return nil, apperr.BadRequest(err.Error())
		default:
			return nil, apperr.Internal(err)
		}
	}

	attachments, err := d.Uploader.Upload(c.Request.Context(), prefix, files)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return nil, apperr.BadRequest("File uploads are not enabled on this server")
		}

		return nil, apperr.Internal(err)
	}

	return attachments, nil
}
