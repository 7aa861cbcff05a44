package model

import "time"

// Document processing status values walked by the ingestion pipeline.
const (
	DocStatusPending           = "pending"
	DocStatusExtracting        = "extracting"
	DocStatusChunking          = "chunking"
	DocStatusEmbedding         = "embedding"
	DocStatusMetadataPersisted = "metadata_persisted"
	DocStatusProcessed         = "processed"
	DocStatusFailed            = "failed"
)

type Document struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	DocumentID  string     `gorm:"size:64;not null;uniqueIndex" json:"document_id"`
	Filename    string     `gorm:"size:256;not null;index" json:"filename"`
	StoragePath string     `gorm:"size:512;not null" json:"storage_path"`
	Category    string     `gorm:"size:64;not null;index" json:"category"`
	Description string     `gorm:"type:text" json:"description"`
	SizeBytes   int64      `gorm:"not null" json:"size_bytes"`
	Status      string     `gorm:"size:32;not null;default:pending" json:"status"`
	ErrorNote   string     `gorm:"type:text" json:"error_note,omitempty"`
	Processed   bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ChunkCount  int        `gorm:"not null;default:0" json:"chunk_count"`
	UploadedAt  time.Time  `gorm:"autoCreateTime" json:"uploaded_at"`
}
