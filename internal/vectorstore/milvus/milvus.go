package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	log "github.com/sirupsen/logrus"

	"bankchat/internal/vectorstore"
)

const (
	fieldID       = "id"
	fieldDocument = "document_id"
	fieldCategory = "category"
	fieldContent  = "content"
	fieldVector   = "embedding"
)

// Store is the Milvus-backed embedding store.
type Store struct {
	client     client.Client
	collection string
	dimension  int
}

func NewStore(ctx context.Context, address, collection string, dimension int) (*Store, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("connect milvus failed: %w", err)
	}

	s := &Store{client: c, collection: collection, dimension: dimension}
	if err := s.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check milvus collection failed: %w", err)
	}
	if exists {
		return s.client.LoadCollection(ctx, s.collection, false)
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true,
				TypeParams: map[string]string{entity.TypeParamMaxLength: "64"}},
			{Name: fieldDocument, DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: "64"}},
			{Name: fieldCategory, DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: "64"}},
			{Name: fieldContent, DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: "65535"}},
			{Name: fieldVector, DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", s.dimension)}},
		},
	}
	if err := s.client.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("create milvus collection failed: %w", err)
	}

	index, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("build milvus index failed: %w", err)
	}
	if err := s.client.CreateIndex(ctx, s.collection, fieldVector, index, false); err != nil {
		return fmt.Errorf("create milvus index failed: %w", err)
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("load milvus collection failed: %w", err)
	}
	log.WithField("collection", s.collection).Info("created milvus collection")
	return nil
}

func (s *Store) Add(ctx context.Context, entries []vectorstore.Entry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entries))
	documents := make([]string, len(entries))
	categories := make([]string, len(entries))
	contents := make([]string, len(entries))
	vectors := make([][]float32, len(entries))
	for i, entry := range entries {
		ids[i] = uuid.New().String()
		documents[i] = entry.DocumentID
		categories[i] = entry.Metadata["category"]
		contents[i] = entry.Content
		vectors[i] = entry.Vector
	}

	_, err := s.client.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldDocument, documents),
		entity.NewColumnVarChar(fieldCategory, categories),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnFloatVector(fieldVector, s.dimension, vectors),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus insert failed: %w", err)
	}
	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return nil, fmt.Errorf("milvus flush failed: %w", err)
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ","))
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func (s *Store) Search(
	ctx context.Context,
	vector []float32,
	topK int,
	threshold float32,
	filter map[string]string,
) ([]vectorstore.Result, error) {
	if topK <= 0 {
		topK = 5
	}

	expr := ""
	if category := filter["category"]; category != "" {
		expr = fmt.Sprintf("%s == %q", fieldCategory, category)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("build milvus search param failed: %w", err)
	}

	searchResults, err := s.client.Search(
		ctx,
		s.collection,
		nil,
		expr,
		[]string{fieldDocument, fieldCategory, fieldContent},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	var results []vectorstore.Result
	for _, sr := range searchResults {
		idCol := varcharColumn(sr.IDs)
		docCol := varcharColumn(sr.Fields.GetColumn(fieldDocument))
		catCol := varcharColumn(sr.Fields.GetColumn(fieldCategory))
		contentCol := varcharColumn(sr.Fields.GetColumn(fieldContent))

		for i := 0; i < sr.ResultCount; i++ {
			if sr.Scores[i] < threshold {
				continue
			}
			results = append(results, vectorstore.Result{
				VectorID:   columnValue(idCol, i),
				DocumentID: columnValue(docCol, i),
				Content:    columnValue(contentCol, i),
				Score:      sr.Scores[i],
				Metadata:   map[string]string{"category": columnValue(catCol, i)},
			})
		}
	}
	return results, nil
}

func varcharColumn(col entity.Column) *entity.ColumnVarChar {
	vc, _ := col.(*entity.ColumnVarChar)
	return vc
}

func columnValue(col *entity.ColumnVarChar, idx int) string {
	if col == nil {
		return ""
	}
	value, err := col.ValueByIdx(idx)
	if err != nil {
		return ""
	}
	return value
}
