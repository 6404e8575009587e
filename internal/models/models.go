package models

import "time"

// UploadEvent is the event name progress notifications are published under
const UploadEvent = "file-upload"

// FileRecord represents one stored file as returned by the listing endpoint
type FileRecord struct {
	Size         string    `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Owner        string    `json:"owner"`
	File         string    `json:"file"`
}

// ProgressEvent is the payload sent to a session while a file part is streamed
type ProgressEvent struct {
	ProcessedAlready int64  `json:"processedAlready"`
	FileName         string `json:"fileName"`
}

// Envelope wraps an event for transport over the notification channel
type Envelope struct {
	Event string        `json:"event"`
	Data  ProgressEvent `json:"data"`
}

// UploadRecord describes a file part once it has been fully written
type UploadRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	FieldName  string    `json:"field_name"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkData holds one chunk while it travels through the upload pipeline
type ChunkData struct {
	Data       []byte
	OrderIndex int
	Size       int64
}

// UploadResponse is the body returned after a successful upload
type UploadResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is the body returned when a request fails
type ErrorResponse struct {
	Error string `json:"error"`
}
