package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/go-chi/chi/v5"
)

// BlobServer отдаёт байты вложения клиенту (blob.Disk).
type BlobServer interface {
	Serve(w http.ResponseWriter, r *http.Request, path, name string)
}

type FileHandler struct {
	svc           *service.Service
	blobs         BlobServer
	maxUploadSize int64
}

func NewFileHandler(svc *service.Service, blobs BlobServer, maxUploadSize int64) *FileHandler {
	return &FileHandler{svc: svc, blobs: blobs, maxUploadSize: maxUploadSize}
}

// Upload: POST /api/messages/{messageId}/files, multipart с полем "file".
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// запас на заголовки multipart
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	f, err := h.svc.AttachFile(r.Context(), service.AttachFileInput{
		MessageID: chi.URLParam(r, "messageId"),
		UserID:    middleware.GetUserID(r.Context()),
		Name:      header.Filename,
		Data:      data,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListFiles(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.GetFile(r.Context(), chi.URLParam(r, "fileId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Download проверяет доступ к сообщению и отдаёт содержимое с оригинальным именем.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.GetFile(r.Context(), chi.URLParam(r, "fileId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.blobs.Serve(w, r, f.Path, f.OriginalName)
}

// ServeBlob отдаёт содержимое по имени блоба (File.URL); ?name= задаёт имя для сохранения.
func (h *FileHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	h.blobs.Serve(w, r, chi.URLParam(r, "name"), r.URL.Query().Get("name"))
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteFile(r.Context(), chi.URLParam(r, "fileId"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *FileHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.FileUsageStats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
