package services

import (
	"bytes"
	"os"
	"testing"

	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUploadService(t *testing.T) *UploadService {
	t.Helper()
	return NewUploadService(UploadServiceConfig{
		UploadDir: t.TempDir(),
		Logger:    logger.NewNop(),
	})
}

func TestUploadReassemblesChunksInIndexOrder(t *testing.T) {
	s := newUploadService(t)

	uploadID, err := s.Init("payload.bin")
	require.NoError(t, err)
	require.NotEmpty(t, uploadID)

	chunks := [][]byte{
		bytes.Repeat([]byte{0xAA}, 1024),
		bytes.Repeat([]byte{0xBB}, 512),
		bytes.Repeat([]byte{0xCC}, 7),
	}

	// Chunks arrive out of order; completion still concatenates by index.
	require.NoError(t, s.SaveChunk(uploadID, 2, chunks[2]))
	require.NoError(t, s.SaveChunk(uploadID, 0, chunks[0]))
	require.NoError(t, s.SaveChunk(uploadID, 1, chunks[1]))

	path, err := s.Complete(uploadID)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(chunks, nil), data)
}

func TestUploadUnknownSession(t *testing.T) {
	s := newUploadService(t)

	err := s.SaveChunk("missing", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrUploadNotFound)

	_, err = s.Complete("missing")
	assert.ErrorIs(t, err, ErrUploadNotFound)
}

func TestUploadRejectsNegativeChunkIndex(t *testing.T) {
	s := newUploadService(t)

	uploadID, err := s.Init("payload.bin")
	require.NoError(t, err)

	err = s.SaveChunk(uploadID, -1, []byte("x"))
	assert.ErrorIs(t, err, ErrUploadInvalidChunk)
}

func TestUploadSessionIsSingleUse(t *testing.T) {
	s := newUploadService(t)

	uploadID, err := s.Init("payload.bin")
	require.NoError(t, err)
	require.NoError(t, s.SaveChunk(uploadID, 0, []byte("data")))

	_, err = s.Complete(uploadID)
	require.NoError(t, err)

	_, err = s.Complete(uploadID)
	assert.ErrorIs(t, err, ErrUploadNotFound)
}
