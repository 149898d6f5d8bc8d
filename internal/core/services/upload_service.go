package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/monihub/monihub/internal/infrastructure/logger"
)

// uploadSession tracks one chunked upload. Chunks are staged on disk and
// concatenated in index order on completion.
type uploadSession struct {
	id       string
	filename string
	chunks   map[int]string
}

type UploadService struct {
	dir      string
	log      *logger.Logger
	mu       sync.Mutex
	sessions map[string]*uploadSession
}

type UploadServiceConfig struct {
	UploadDir string
	Logger    *logger.Logger
}

func NewUploadService(cfg UploadServiceConfig) *UploadService {
	return &UploadService{
		dir:      cfg.UploadDir,
		log:      cfg.Logger,
		sessions: make(map[string]*uploadSession),
	}
}

func (s *UploadService) Init(filename string) (string, error) {
	if filename == "" {
		filename = "upload.bin"
	}
	filename = filepath.Base(filename)

	id := uuid.New().String()
	if err := os.MkdirAll(s.stagingDir(id), 0755); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}

	s.mu.Lock()
	s.sessions[id] = &uploadSession{id: id, filename: filename, chunks: make(map[int]string)}
	s.mu.Unlock()

	s.log.Infow("upload_init", "upload_id", id, "filename", filename)
	return id, nil
}

func (s *UploadService) SaveChunk(uploadID string, chunkIndex int, data []byte) error {
	if chunkIndex < 0 {
		return ErrUploadInvalidChunk
	}

	s.mu.Lock()
	session, ok := s.sessions[uploadID]
	s.mu.Unlock()
	if !ok {
		return ErrUploadNotFound
	}

	path := filepath.Join(s.stagingDir(uploadID), fmt.Sprintf("chunk_%06d", chunkIndex))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}

	s.mu.Lock()
	session.chunks[chunkIndex] = path
	s.mu.Unlock()
	return nil
}

// Complete concatenates the staged chunks in index order into the final file
// and tears down the staging directory.
func (s *UploadService) Complete(uploadID string) (string, error) {
	s.mu.Lock()
	session, ok := s.sessions[uploadID]
	if ok {
		delete(s.sessions, uploadID)
	}
	s.mu.Unlock()
	if !ok {
		return "", ErrUploadNotFound
	}
	defer os.RemoveAll(s.stagingDir(uploadID))

	indexes := make([]int, 0, len(session.chunks))
	for idx := range session.chunks {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	finalPath := filepath.Join(s.dir, uploadID+"_"+session.filename)
	out, err := os.OpenFile(finalPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create final file: %w", err)
	}
	defer out.Close()

	for _, idx := range indexes {
		data, err := os.ReadFile(session.chunks[idx])
		if err != nil {
			return "", fmt.Errorf("failed to read chunk %d: %w", idx, err)
		}
		if _, err := out.Write(data); err != nil {
			return "", fmt.Errorf("failed to append chunk %d: %w", idx, err)
		}
	}

	s.log.Infow("upload_complete", "upload_id", uploadID, "path", finalPath, "chunks", len(indexes))
	return finalPath, nil
}

func (s *UploadService) stagingDir(uploadID string) string {
	return filepath.Join(s.dir, "staging", uploadID)
}
