package services

import "errors"

// Instance errors
var (
	ErrInstanceNotFound      = errors.New("instance: not found")
	ErrInstanceAlreadyExists = errors.New("instance: agent instance id already exists")
	ErrInstanceInvalidInput  = errors.New("instance: invalid input")
)

// Task errors
var (
	ErrTaskNotFound       = errors.New("task: not found")
	ErrTaskInvalidInput   = errors.New("task: invalid input")
	ErrRecordNotFound     = errors.New("task: record not found")
	ErrInstanceMismatch   = errors.New("task: record does not belong to instance")
	ErrRecordNotRetryable = errors.New("task: only failed or timeout records can be retried")
	ErrRecordTerminal     = errors.New("task: record already reached a terminal state")
)

// Upload errors
var (
	ErrUploadNotFound     = errors.New("upload: session not found")
	ErrUploadInvalidChunk = errors.New("upload: invalid chunk index")
)
