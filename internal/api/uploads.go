package api

import (
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/service"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Types accepted for print jobs. Images match by prefix.
var allowedMIME = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
}

// saveUploads writes each part under a random name and sniffs its content
// type. Oversized or unsupported parts are not kept and come back as field
// errors. On a storage failure every file already written is removed.
func (h *Handler) saveUploads(c *gin.Context, files []*multipart.FileHeader) (saved []service.AttachmentInput, rejected []apperr.FieldError, err error) {
	if len(files) == 0 {
		return nil, nil, nil
	}
	if err := os.MkdirAll(h.opts.Uploads.Dir, 0o755); err != nil {
		return nil, nil, apperr.Storage("create upload dir", err)
	}

	defer func() {
		if err != nil {
			h.removeUploads(saved)
			saved, rejected = nil, nil
		}
	}()

	for i, fh := range files {
		field := fmt.Sprintf("files[%d]", i)
		if fh.Size > h.opts.Uploads.MaxBytes {
			rejected = append(rejected, apperr.FieldError{
				Field:   field,
				Message: fmt.Sprintf("%s exceeds %d bytes", fh.Filename, h.opts.Uploads.MaxBytes),
			})
			continue
		}

		name := uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
		file := service.AttachmentInput{
			Filename:         name,
			OriginalFilename: filepath.Base(fh.Filename),
			FilePath:         filepath.Join(h.opts.Uploads.Dir, name),
			FileSize:         fh.Size,
		}
		if err := c.SaveUploadedFile(fh, file.FilePath); err != nil {
			return saved, rejected, apperr.Storage("save upload", err)
		}

		mtype, err := mimetype.DetectFile(file.FilePath)
		if err != nil {
			h.removeUploads([]service.AttachmentInput{file})
			return saved, rejected, apperr.Storage("detect upload type", err)
		}
		if !acceptedType(mtype) {
			h.removeUploads([]service.AttachmentInput{file})
			rejected = append(rejected, apperr.FieldError{
				Field:   field,
				Message: fmt.Sprintf("%s: unsupported file type %s", fh.Filename, mtype.String()),
			})
			continue
		}
		file.MimeType = mtype.String()
		saved = append(saved, file)
	}
	return saved, rejected, nil
}

func acceptedType(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
		for _, allowed := range allowedMIME {
			if m.Is(allowed) {
				return true
			}
		}
	}
	return false
}

func (h *Handler) removeUploads(files []service.AttachmentInput) {
	for _, f := range files {
		if err := os.Remove(f.FilePath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("Failed to remove upload", zap.String("path", f.FilePath), zap.Error(err))
		}
	}
}
