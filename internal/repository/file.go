package repository

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

const fileCols = `id, message_id, user_id, path, disk, original_name, mime_type, size, is_processed, thumbnail, created_at`

func scanFile(row rowScanner, f *model.File) error {
	return row.Scan(&f.ID, &f.MessageID, &f.UserID, &f.Path, &f.Disk, &f.OriginalName, &f.MimeType, &f.Size,
		&f.IsProcessed, &f.Thumbnail, &f.CreatedAt)
}

func (s *Store) InsertFile(ctx context.Context, f *model.File) error {
	defer logger.DeferLogDuration("file.Insert", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (`+fileCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.MessageID, f.UserID, f.Path, f.Disk, f.OriginalName, f.MimeType, f.Size, f.IsProcessed, f.Thumbnail, f.CreatedAt,
	)
	return classify("fileRepo.Insert", err)
}

func (s *Store) GetFile(ctx context.Context, id string) (*model.File, error) {
	defer logger.DeferLogDuration("file.Get", time.Now())()
	f := &model.File{}
	if err := scanFile(s.pool.QueryRow(ctx, `SELECT `+fileCols+` FROM files WHERE id = $1`, id), f); err != nil {
		return nil, classify("fileRepo.Get", err)
	}
	return f, nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("file.Delete", time.Now())()
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return classify("fileRepo.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.NotFound, "fileRepo.Delete", "file not found")
	}
	return nil
}

func (s *Store) ListFiles(ctx context.Context, messageID string) ([]model.File, error) {
	defer logger.DeferLogDuration("file.List", time.Now())()
	rows, err := s.pool.Query(ctx, `SELECT `+fileCols+` FROM files WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, classify("fileRepo.List query", err)
	}
	defer rows.Close()
	out := make([]model.File, 0, 2)
	for rows.Next() {
		var f model.File
		if err := scanFile(rows, &f); err != nil {
			return nil, classify("fileRepo.List scan", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fileRepo.List rows", err)
	}
	return out, nil
}

func (s *Store) FileUsageStats(ctx context.Context) (*model.FileUsageStats, error) {
	defer logger.DeferLogDuration("file.UsageStats", time.Now())()
	st := &model.FileUsageStats{ByMimeType: make(map[string]int64)}
	rows, err := s.pool.Query(ctx, `SELECT mime_type, COUNT(*), COALESCE(SUM(size), 0) FROM files GROUP BY mime_type`)
	if err != nil {
		return nil, classify("fileRepo.UsageStats query", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mime string
		var n, size int64
		if err := rows.Scan(&mime, &n, &size); err != nil {
			return nil, classify("fileRepo.UsageStats scan", err)
		}
		st.ByMimeType[mime] = n
		st.TotalFiles += n
		st.TotalSize += size
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fileRepo.UsageStats rows", err)
	}
	return st, nil
}
