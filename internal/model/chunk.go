package model

import "time"

// Chunk is a bounded slice of extracted document text, immutable once
// created. VectorID points at the chunk's entry in the embedding store; the
// row here is the authoritative record.
type Chunk struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	DocumentID string    `gorm:"size:64;not null;uniqueIndex:idx_doc_chunk" json:"document_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_doc_chunk" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	VectorID   string    `gorm:"size:64" json:"vector_id"`
	TokenCount int       `gorm:"not null;default:0" json:"token_count"`
	PageNumber *int      `json:"page_number,omitempty"`
	Metadata   string    `gorm:"type:text" json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}
