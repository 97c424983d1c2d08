// Package blob хранит вложения на локальном диске в сжатом виде (.gz).
package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/chatcore/internal/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Disk: хранилище вложений в каталоге Dir. Путь blob'а равен сгенерированному имени файла.
type Disk struct {
	Dir     string
	BaseURL string
}

// NewDisk создаёт хранилище; baseURL: префикс ссылок на скачивание (например "/api/blobs/").
func NewDisk(dir, baseURL string) *Disk {
	if baseURL == "" {
		baseURL = "/api/blobs/"
	}
	return &Disk{Dir: dir, BaseURL: baseURL}
}

func (d *Disk) Name() string { return "local" }

// Store сжимает data и сохраняет под новым именем uuid + расширение по MIME.
func (d *Disk) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("blob mkdir: %w", err)
	}
	ext := ""
	if mt := mimetype.Lookup(contentType); mt != nil {
		ext = mt.Extension()
	}
	name := uuid.New().String() + ext
	dstPath := filepath.Join(d.Dir, name+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("blob create: %w", err)
	}
	gz := gzip.NewWriter(dst)
	if err := copyWithContext(ctx, gz, bytes.NewReader(data)); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("blob gzip: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("blob close: %w", err)
	}
	return name, nil
}

// Delete удаляет blob; отсутствующий файл не ошибка.
func (d *Disk) Delete(ctx context.Context, path string) error {
	err := os.Remove(filepath.Join(d.Dir, filepath.Base(path)+".gz"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob delete: %w", err)
	}
	return nil
}

func (d *Disk) URL(path string) string {
	return d.BaseURL + url.PathEscape(filepath.Base(path))
}

// Open возвращает распакованное содержимое.
func (d *Disk) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.Dir, filepath.Base(path)+".gz"))
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipFile{Reader: gz, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// Serve отдаёт файл по имени (разархивирует при отдаче); name: оригинальное имя для Content-Disposition.
func (d *Disk) Serve(w http.ResponseWriter, r *http.Request, path, name string) {
	path = filepath.Base(path)
	rc, err := d.Open(path)
	if err != nil {
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}
	defer rc.Close()

	if mt := mimetype.Lookup(contentTypeByExt(filepath.Ext(path))); mt != nil {
		w.Header().Set("Content-Type", mt.String())
	}
	if name = strings.TrimSpace(strings.ReplaceAll(name, "+", " ")); name != "" {
		if safe := SafeFilename(name); safe != "" {
			disp := "attachment; filename*=UTF-8''" + url.QueryEscape(safe)
			if ascii := asciiFallbackFilename(safe); ascii == safe {
				disp = "attachment; filename=\"" + ascii + "\"; " + disp
			}
			w.Header().Set("Content-Disposition", disp)
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Errorf("blob serve %s: %v", path, err)
	}
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}

// SafeFilename оставляет имя файла безопасным для Content-Disposition (без управляющих символов и кавычек).
// Поддерживается UTF-8, чтобы сохранять кириллицу и другие языки.
func SafeFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// asciiFallbackFilename возвращает имя только из ASCII для legacy filename= в Content-Disposition.
func asciiFallbackFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("blob write cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}
