package communicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

const uploadChunkSize = 1 << 20 // 1 MiB

type uploadInitResponse struct {
	UploadID string `json:"upload_id"`
}

// UploadFile streams a local file to the control plane in fixed-size chunks
// and returns the upload id the server assigned.
func (c *Client) UploadFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	uploadID, err := c.uploadInit(filepath.Base(path))
	if err != nil {
		return "", err
	}

	buf := make([]byte, uploadChunkSize)
	chunkIndex := 0
	for {
		n, readErr := io.ReadFull(file, buf)
		if n > 0 {
			if err := c.uploadChunk(uploadID, chunkIndex, buf[:n]); err != nil {
				return "", err
			}
			chunkIndex++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read file: %w", readErr)
		}
	}

	if err := c.uploadComplete(uploadID); err != nil {
		return "", err
	}

	c.logger.Info("file uploaded",
		zap.String("upload_id", uploadID),
		zap.String("file", filepath.Base(path)),
		zap.Int("chunks", chunkIndex),
	)
	return uploadID, nil
}

func (c *Client) uploadInit(filename string) (string, error) {
	body, _ := json.Marshal(map[string]string{"filename": filename})
	respBody, status, err := c.post(c.serverURL+"/api/files/upload/init", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("upload init returned status %d: %s", status, string(respBody))
	}

	var resp uploadInitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse upload init response: %w", err)
	}
	if resp.UploadID == "" {
		return "", fmt.Errorf("upload init returned empty upload_id")
	}
	return resp.UploadID, nil
}

func (c *Client) uploadChunk(uploadID string, chunkIndex int, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("upload_id", uploadID); err != nil {
		return fmt.Errorf("failed to build chunk form: %w", err)
	}
	if err := writer.WriteField("chunk_index", strconv.Itoa(chunkIndex)); err != nil {
		return fmt.Errorf("failed to build chunk form: %w", err)
	}
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk_%d", chunkIndex))
	if err != nil {
		return fmt.Errorf("failed to build chunk form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write chunk data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize chunk form: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.serverURL+"/api/files/upload/chunk", &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.observeStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload chunk %d returned status %d: %s", chunkIndex, resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) uploadComplete(uploadID string) error {
	body, _ := json.Marshal(map[string]string{"upload_id": uploadID})
	respBody, status, err := c.post(c.serverURL+"/api/files/upload/complete", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upload complete returned status %d: %s", status, string(respBody))
	}
	return nil
}
