package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"bankchat/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByDocumentID(documentID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("document_id = ?", documentID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// FindProcessed returns the processed document for a filename/category pair,
// or nil. Used by the idempotent re-ingestion guard.
func (r *DocumentRepository) FindProcessed(filename, category string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("filename = ? AND category = ? AND processed = ?", filename, category, true).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find processed document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List(category string) ([]model.Document, error) {
	var docs []model.Document
	query := r.db.Order("uploaded_at DESC")
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) UpdateStatus(documentID, status string) error {
	if err := r.db.Model(&model.Document{}).
		Where("document_id = ?", documentID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("update document status failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkFailed(documentID, note string) error {
	updates := map[string]interface{}{
		"status":     model.DocStatusFailed,
		"error_note": note,
	}
	if err := r.db.Model(&model.Document{}).
		Where("document_id = ?", documentID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("mark document failed failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkProcessed(documentID string, chunkCount int) error {
	updates := map[string]interface{}{
		"status":       model.DocStatusProcessed,
		"processed":    true,
		"processed_at": gorm.Expr("CURRENT_TIMESTAMP"),
		"chunk_count":  chunkCount,
	}
	if err := r.db.Model(&model.Document{}).
		Where("document_id = ?", documentID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("mark document processed failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteByDocumentID(documentID string) error {
	if err := r.db.Where("document_id = ?", documentID).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
