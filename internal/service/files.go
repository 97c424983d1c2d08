package service

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/blob"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

// DefaultAllowedMimeTypes: разрешённые семейства типов; запись с "/" на конце: префикс.
var DefaultAllowedMimeTypes = []string{
	"image/", "video/", "audio/", "text/plain", "text/csv",
	"application/pdf", "application/zip", "application/json",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/msword", "application/vnd.ms-excel",
}

// blockedExtensions: исполняемые и скриптовые файлы не принимаются независимо от содержимого.
var blockedExtensions = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// AttachFile stores an attachment of the author's own message.
func (s *Service) AttachFile(ctx context.Context, in AttachFileInput) (*model.File, error) {
	const op = "service.AttachFile"
	defer logger.DeferLogDuration(op, time.Now())()
	size := int64(len(in.Data))
	if size == 0 {
		return nil, apperr.E(apperr.Validation, op, "file is empty")
	}
	if size > s.opts.MaxUploadSize {
		return nil, apperr.E(apperr.Validation, op, "file exceeds "+humanize.Bytes(uint64(s.opts.MaxUploadSize)))
	}
	name := blob.SafeFilename(in.Name)
	if blockedExtensions[strings.ToLower(filepath.Ext(name))] {
		return nil, apperr.E(apperr.Validation, op, "file extension not allowed")
	}
	mt := mimetype.Detect(in.Data)
	if !s.mimeAllowed(mt) {
		return nil, apperr.E(apperr.Validation, op, "file type "+mt.String()+" not allowed")
	}
	m, err := s.publishedMessage(ctx, op, in.MessageID, in.UserID, CapPost)
	if err != nil {
		return nil, err
	}
	if m.UserID != in.UserID {
		return nil, apperr.E(apperr.Unauthorized, op, "only the author can attach files")
	}

	ctype, _, _ := strings.Cut(mt.String(), ";")
	path, err := s.blobs.Store(ctx, in.Data, ctype)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	f := &model.File{
		ID:           newID(),
		MessageID:    m.ID,
		UserID:       in.UserID,
		Path:         path,
		Disk:         s.opts.BlobDisk,
		OriginalName: name,
		MimeType:     ctype,
		Size:         size,
		IsProcessed:  true,
		CreatedAt:    s.clock(),
	}
	if err := s.store.InsertFile(ctx, f); err != nil {
		if derr := s.blobs.Delete(ctx, path); derr != nil {
			logger.Errorf("%s: orphan blob %s: %v", op, path, derr)
		}
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	f.URL = s.blobs.URL(path)
	return f, nil
}

// DeleteFile removes the attachment row, then the blob. The message stays.
func (s *Service) DeleteFile(ctx context.Context, fileID, requesterID string) error {
	const op = "service.DeleteFile"
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, op, err)
	}
	m, p, err := s.loadMessage(ctx, op, f.MessageID, requesterID, CapRead)
	if err != nil {
		return err
	}
	if f.UserID != requesterID && (p.IsBlocked || !p.Role.CanModerate()) {
		return apperr.E(apperr.Unauthorized, op, "only the uploader or a moderator can delete a file")
	}
	if err := s.store.DeleteFile(ctx, f.ID); err != nil {
		return apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if err := s.blobs.Delete(ctx, f.Path); err != nil {
		logger.Errorf("%s: message=%s blob %s: %v", op, m.ID, f.Path, err)
	}
	return nil
}

// GetFile returns the attachment with its storage path for download.
func (s *Service) GetFile(ctx context.Context, fileID, viewerID string) (*model.File, error) {
	const op = "service.GetFile"
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if _, err := s.publishedMessage(ctx, op, f.MessageID, viewerID, CapRead); err != nil {
		return nil, err
	}
	f.URL = s.blobs.URL(f.Path)
	return f, nil
}

func (s *Service) ListFiles(ctx context.Context, messageID, viewerID string) ([]model.File, error) {
	const op = "service.ListFiles"
	if _, err := s.publishedMessage(ctx, op, messageID, viewerID, CapRead); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, messageID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return s.withURLs(files), nil
}

func (s *Service) FileUsageStats(ctx context.Context) (*model.FileUsageStats, error) {
	const op = "service.FileUsageStats"
	st, err := s.store.FileUsageStats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	st.HumanSize = humanize.Bytes(uint64(st.TotalSize))
	return st, nil
}

func (s *Service) withURLs(files []model.File) []model.File {
	if s.blobs == nil {
		return files
	}
	return lo.Map(files, func(f model.File, _ int) model.File {
		f.URL = s.blobs.URL(f.Path)
		return f
	})
}

// mimeAllowed walks the detected type and its parents (docx -> zip) against the allow list.
func (s *Service) mimeAllowed(mt *mimetype.MIME) bool {
	for t := mt; t != nil; t = t.Parent() {
		ctype, _, _ := strings.Cut(t.String(), ";")
		ok := lo.SomeBy(s.opts.AllowedMimeType, func(a string) bool {
			if strings.HasSuffix(a, "/") {
				return strings.HasPrefix(ctype, a)
			}
			return ctype == a
		})
		if ok {
			return true
		}
	}
	return false
}
