package executor

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

// runFileManager moves files between hosts and the control plane. Both
// sub-operations end in a chunked upload and return the assigned upload id.
func (e *Executor) runFileManager(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	switch operation := stringField(content, "operation"); operation {
	case "upload_file":
		return e.fetchAndUpload(ctx, content)
	case "download_file":
		return e.archiveAndUpload(content)
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

// fetchAndUpload pulls a remote URL to a temp file, then ships it to the
// control plane.
func (e *Executor) fetchAndUpload(ctx context.Context, content map[string]interface{}) (map[string]interface{}, error) {
	remoteURL := stringField(content, "remote_url")
	if remoteURL == "" {
		return nil, fmt.Errorf("remote_url is required")
	}

	dir, err := os.MkdirTemp(e.cfg.File.UploadDir, "monihub-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client, err := e.buildHTTPClient(content)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", remoteURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote returned status %d", resp.StatusCode)
	}

	filename := filepath.Base(req.URL.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "download"
	}
	localPath := filepath.Join(dir, filename)
	file, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	_, copyErr := io.Copy(file, resp.Body)
	file.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("failed to stream remote file: %w", copyErr)
	}

	uploadID, err := e.uploadWithinLimit(localPath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"upload_id": uploadID}, nil
}

// archiveAndUpload zips a local file or directory tree and ships the
// archive to the control plane.
func (e *Executor) archiveAndUpload(content map[string]interface{}) (map[string]interface{}, error) {
	path := stringField(content, "path")
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	dir, err := os.MkdirTemp(e.cfg.File.UploadDir, "monihub-archive-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	archivePath := filepath.Join(dir, filepath.Base(path)+".zip")
	if err := zipPath(archivePath, path, info.IsDir()); err != nil {
		return nil, err
	}

	uploadID, err := e.uploadWithinLimit(archivePath)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"upload_id": uploadID}, nil
}

// uploadWithinLimit enforces the configured upload size cap before any
// chunk leaves the host.
func (e *Executor) uploadWithinLimit(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat upload: %w", err)
	}
	maxBytes := int64(e.cfg.File.MaxUploadSizeMB) << 20
	if info.Size() > maxBytes {
		return "", fmt.Errorf("file size %d exceeds upload limit of %d MB", info.Size(), e.cfg.File.MaxUploadSizeMB)
	}
	return e.client.UploadFile(path)
}

// zipPath archives a directory recursively with entry names relative to the
// root, or a single file under its basename.
func zipPath(archivePath, sourcePath string, isDir bool) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer archive.Close()

	writer := zip.NewWriter(archive)
	defer writer.Close()

	if !isDir {
		return addFileToZip(writer, sourcePath, filepath.Base(sourcePath))
	}

	return filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		return addFileToZip(writer, path, filepath.ToSlash(rel))
	})
}

func addFileToZip(writer *zip.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	entry, err := writer.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, file); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}
