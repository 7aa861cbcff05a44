package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bankchat/internal/chunker"
	"bankchat/internal/extract"
	"bankchat/internal/model"
	"bankchat/internal/platform/rabbitmq"
	"bankchat/internal/repository"
	"bankchat/internal/vectorstore"
)

// ErrIngestion marks a pipeline failure; the document row is left in the
// failed state with an error note.
var ErrIngestion = errors.New("ingestion failed")

// EmbedBatcher produces embedding vectors for a batch of chunk contents.
type EmbedBatcher interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline drives a document from raw bytes to searchable chunks. Each
// stage updates the document row's status so a stuck or failed ingestion
// is visible from the outside.
type Pipeline struct {
	documents  *repository.DocumentRepository
	chunks     *repository.ChunkRepository
	extractor  *extract.Service
	chunker    *chunker.Chunker
	embedder   EmbedBatcher
	store      vectorstore.Store
	reconciler *rabbitmq.ReconcilePublisher
	storageDir string
}

func NewPipeline(
	documents *repository.DocumentRepository,
	chunks *repository.ChunkRepository,
	extractor *extract.Service,
	ck *chunker.Chunker,
	embedder EmbedBatcher,
	store vectorstore.Store,
	reconciler *rabbitmq.ReconcilePublisher,
	storageDir string,
) *Pipeline {
	return &Pipeline{
		documents:  documents,
		chunks:     chunks,
		extractor:  extractor,
		chunker:    ck,
		embedder:   embedder,
		store:      store,
		reconciler: reconciler,
		storageDir: storageDir,
	}
}

// Ingest runs the full pipeline for one uploaded document. The raw file
// is kept under the configured storage directory so the record points
// at a real file. A document already processed under the same filename
// and category is skipped unless force is set. On failure the document
// row is marked failed and no chunk rows survive, so a retry starts
// clean.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename, category, description string, force bool) (*model.Document, error) {
	if existing, err := p.findProcessed(filename, category, force); existing != nil || err != nil {
		return existing, err
	}

	storagePath, err := p.saveUpload(data, category, filename)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, data, storagePath, filename, category, description)
}

// IngestFile runs the pipeline for a document already on disk, recording
// the source file's absolute path.
func (p *Pipeline) IngestFile(ctx context.Context, path, category, description string, force bool) (*model.Document, error) {
	filename := filepath.Base(path)
	if existing, err := p.findProcessed(filename, category, force); existing != nil || err != nil {
		return existing, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	storagePath, err := filepath.Abs(path)
	if err != nil {
		storagePath = path
	}
	return p.run(ctx, data, storagePath, filename, category, description)
}

func (p *Pipeline) findProcessed(filename, category string, force bool) (*model.Document, error) {
	if force {
		return nil, nil
	}
	existing, err := p.documents.FindProcessed(filename, category)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if existing != nil {
		logrus.WithFields(logrus.Fields{
			"document_id": existing.DocumentID,
			"filename":    filename,
		}).Info("document already processed, skipping")
	}
	return existing, nil
}

func (p *Pipeline) saveUpload(data []byte, category, filename string) (string, error) {
	if p.storageDir == "" {
		return filename, nil
	}
	dir := filepath.Join(p.storageDir, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage directory failed: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store uploaded document failed: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

func (p *Pipeline) run(ctx context.Context, data []byte, storagePath, filename, category, description string) (*model.Document, error) {
	doc := &model.Document{
		DocumentID:  uuid.NewString(),
		Filename:    filename,
		StoragePath: storagePath,
		Category:    category,
		Description: description,
		SizeBytes:   int64(len(data)),
		Status:      model.DocStatusPending,
	}
	if err := p.documents.Create(doc); err != nil {
		return nil, fmt.Errorf("create document record failed: %w", err)
	}

	if err := p.process(ctx, doc, data); err != nil {
		p.fail(doc, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrIngestion, doc.Filename, err)
	}
	return doc, nil
}

func (p *Pipeline) process(ctx context.Context, doc *model.Document, data []byte) error {
	if err := p.documents.UpdateStatus(doc.DocumentID, model.DocStatusExtracting); err != nil {
		return fmt.Errorf("update status failed: %w", err)
	}
	units, err := p.extractor.Extract(ctx, data, doc.Filename)
	if err != nil {
		return fmt.Errorf("extract %s: %w", doc.Filename, err)
	}

	if err := p.documents.UpdateStatus(doc.DocumentID, model.DocStatusChunking); err != nil {
		return fmt.Errorf("update status failed: %w", err)
	}
	pieces := p.chunker.Split(doc.DocumentID, units)
	if len(pieces) == 0 {
		return fmt.Errorf("document %s produced no chunks", doc.Filename)
	}

	if err := p.documents.UpdateStatus(doc.DocumentID, model.DocStatusEmbedding); err != nil {
		return fmt.Errorf("update status failed: %w", err)
	}
	contents := make([]string, len(pieces))
	for i, piece := range pieces {
		contents[i] = piece.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(pieces) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(pieces))
	}

	entries := make([]vectorstore.Entry, len(pieces))
	for i, piece := range pieces {
		meta := map[string]string{"category": doc.Category}
		for k, v := range piece.Metadata {
			meta[k] = v
		}
		entries[i] = vectorstore.Entry{
			DocumentID: doc.DocumentID,
			Content:    piece.Content,
			Vector:     vectors[i],
			Metadata:   meta,
		}
	}
	vectorIDs, err := p.store.Add(ctx, entries)
	if err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}

	if err := p.documents.UpdateStatus(doc.DocumentID, model.DocStatusMetadataPersisted); err != nil {
		p.requestReconcile(ctx, doc.DocumentID, vectorIDs, "status update failed after embedding")
		return fmt.Errorf("update status failed: %w", err)
	}
	rows := make([]model.Chunk, len(pieces))
	for i, piece := range pieces {
		rows[i] = model.Chunk{
			DocumentID: doc.DocumentID,
			ChunkIndex: piece.Index,
			Content:    piece.Content,
			VectorID:   vectorIDs[i],
			TokenCount: piece.TokenCount,
			PageNumber: pageNumberOf(piece.Metadata),
			Metadata:   encodeMetadata(piece.Metadata),
		}
	}
	if err := p.chunks.CreateBatch(rows); err != nil {
		p.requestReconcile(ctx, doc.DocumentID, vectorIDs, "chunk persistence failed")
		return fmt.Errorf("persist chunks: %w", err)
	}

	if err := p.documents.MarkProcessed(doc.DocumentID, len(rows)); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	doc.Status = model.DocStatusProcessed
	doc.Processed = true
	doc.ChunkCount = len(rows)

	logrus.WithFields(logrus.Fields{
		"document_id": doc.DocumentID,
		"filename":    doc.Filename,
		"chunks":      len(rows),
	}).Info("document processed")
	return nil
}

// Delete removes a document's footprint in strict order: embeddings
// first, then chunk rows, then the document row. An unknown id is a
// no-op, so a repeated delete succeeds; residual chunk rows for the id
// are still swept. A failure between the vector delete and the row
// deletes enqueues a reconcile job so the sweep can finish the cleanup.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	doc, err := p.documents.GetByDocumentID(documentID)
	if err != nil {
		return fmt.Errorf("lookup document failed: %w", err)
	}

	rows, err := p.chunks.ListByDocumentID(documentID)
	if err != nil {
		return fmt.Errorf("list chunks failed: %w", err)
	}
	vectorIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.VectorID != "" {
			vectorIDs = append(vectorIDs, row.VectorID)
		}
	}

	if len(vectorIDs) > 0 {
		if err := p.store.Delete(ctx, vectorIDs); err != nil {
			return fmt.Errorf("delete embeddings failed: %w", err)
		}
	}

	if err := p.chunks.DeleteByDocumentID(documentID); err != nil {
		p.requestReconcile(ctx, documentID, vectorIDs, "chunk delete failed after vector delete")
		return fmt.Errorf("delete chunks failed: %w", err)
	}
	if doc == nil {
		logrus.WithField("document_id", documentID).Info("delete for unknown document, nothing to remove")
		return nil
	}
	if err := p.documents.DeleteByDocumentID(documentID); err != nil {
		p.requestReconcile(ctx, documentID, nil, "document delete failed after chunk delete")
		return fmt.Errorf("delete document failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"vectors":     len(vectorIDs),
	}).Info("document deleted")
	return nil
}

// List returns document records, optionally filtered by category.
func (p *Pipeline) List(category string) ([]model.Document, error) {
	return p.documents.List(category)
}

// IngestDirectory walks a directory at startup and ingests every
// supported file. Each file's category is its immediate parent directory
// name. Individual failures are logged and skipped.
func (p *Pipeline) IngestDirectory(ctx context.Context, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("documents path unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("documents path %s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedFile(path) {
			return nil
		}

		category := filepath.Base(filepath.Dir(path))
		if _, err := p.IngestFile(ctx, path, category, "", false); err != nil {
			logrus.WithError(err).WithField("file", path).Warn("startup ingestion failed, skipping")
		}
		return nil
	})
}

func (p *Pipeline) fail(doc *model.Document, cause error) {
	if err := p.documents.MarkFailed(doc.DocumentID, cause.Error()); err != nil {
		logrus.WithError(err).WithField("document_id", doc.DocumentID).Error("mark document failed errored")
	}
	if err := p.chunks.DeleteByDocumentID(doc.DocumentID); err != nil {
		logrus.WithError(err).WithField("document_id", doc.DocumentID).Error("cleanup chunks after failure errored")
	}
	doc.Status = model.DocStatusFailed
	logrus.WithError(cause).WithFields(logrus.Fields{
		"document_id": doc.DocumentID,
		"filename":    doc.Filename,
	}).Error("document ingestion failed")
}

func (p *Pipeline) requestReconcile(ctx context.Context, documentID string, vectorIDs []string, reason string) {
	if p.reconciler == nil {
		logrus.WithField("document_id", documentID).Warn("reconcile requested but no publisher configured")
		return
	}
	job := rabbitmq.ReconcileJob{
		DocumentID: documentID,
		VectorIDs:  vectorIDs,
		Reason:     reason,
	}
	if err := p.reconciler.Publish(ctx, job); err != nil {
		logrus.WithError(err).WithField("document_id", documentID).Error("publish reconcile job failed")
	}
}

func pageNumberOf(meta map[string]string) *int {
	raw, ok := meta["page_number"]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func encodeMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(payload)
}

func supportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".pdf":
		return true
	}
	return false
}
