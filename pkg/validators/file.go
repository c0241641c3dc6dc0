package validators

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"slices"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/viper"
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
	ErrNoFile              = errors.New("no file provided")
	ErrTooManyFiles        = errors.New("too many files")
)

const (
	maxFileNameSize = 255
	// MaxAttachments is the number of files one homework or submission may carry
	MaxAttachments = 5
)

// CheckedFile is an opened upload whose content type was sniffed from its bytes
type CheckedFile struct {
	File     multipart.File
	Name     string
	MimeType string
	Size     int64
}

// FileValidator checks an uploaded attachment against upload.max_size and
// upload.allowed_types. The client supplied content type is ignored, the
// type is detected from the content. The returned file is rewound.
func FileValidator(fh *multipart.FileHeader) (*CheckedFile, error) {
	if fh == nil {
		return nil, ErrNoFile
	}

	if len(fh.Filename) > maxFileNameSize {
		return nil, ErrFileNameTooLong
	}

	maxFileSize := viper.GetInt64("upload.max_size")
	if maxFileSize > 0 && fh.Size > maxFileSize {
		return nil, ErrFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload, %w", err)
	}

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to detect file type, %w", err)
	}

	allowed := viper.GetStringSlice("upload.allowed_types")
	if len(allowed) > 0 && !slices.ContainsFunc(allowed, func(t string) bool { return mime.Is(t) }) {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrFileTypeUnsupported, mime.String())
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rewind upload, %w", err)
	}

	return &CheckedFile{
		File:     f,
		Name:     fh.Filename,
		MimeType: mime.String(),
		Size:     fh.Size,
	}, nil
}

// FilesValidator validates every file and closes the ones already opened
// when one of them fails
func FilesValidator(fhs []*multipart.FileHeader) ([]*CheckedFile, error) {
	if len(fhs) > MaxAttachments {
		return nil, ErrTooManyFiles
	}

	out := make([]*CheckedFile, 0, len(fhs))
	for _, fh := range fhs {
		cf, err := FileValidator(fh)
		if err != nil {
			CloseAll(out)
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}

		out = append(out, cf)
	}

	return out, nil
}

func CloseAll(files []*CheckedFile) {
	for _, f := range files {
		f.File.Close()
	}
}
