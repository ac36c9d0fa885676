// Package fulltext supplies extracted document text for indexing.
//
// Extraction itself happens upstream; by the time an entity is indexed its
// file text already exists as per-page chunks in object storage. Source
// abstracts where those chunks live so the transformer stays free of I/O:
// the orchestrator resolves chunks ahead of the transform and passes them in.
package fulltext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/calderas/lattice/pkg/model"
)

// ErrNoText indicates the file has no extracted text.
var ErrNoText = errors.New("no extracted text for file")

// Source resolves a file id to its extracted text chunks, ordered by page.
type Source interface {
	Chunks(ctx context.Context, fileID string) ([]model.TextChunk, error)
}

// Memory is an in-process Source for tests.
type Memory struct {
	mu     sync.RWMutex
	chunks map[string][]model.TextChunk
}

// NewMemory creates an empty in-process source.
func NewMemory() *Memory {
	return &Memory{chunks: make(map[string][]model.TextChunk)}
}

// Put stores the chunks for a file.
func (m *Memory) Put(fileID string, chunks []model.TextChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[fileID] = chunks
}

// Chunks implements Source.
func (m *Memory) Chunks(_ context.Context, fileID string) ([]model.TextChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks, ok := m.chunks[fileID]
	if !ok {
		return nil, ErrNoText
	}
	return chunks, nil
}

// s3API is the slice of the S3 client the source needs.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads chunk files from object storage. Each file id maps to one JSON
// object under prefix holding the page array written by the extraction
// pipeline.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 creates an S3-backed source.
func NewS3(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

var tracer = otel.Tracer("lattice/fulltext")

// Chunks implements Source.
func (s *S3) Chunks(ctx context.Context, fileID string) ([]model.TextChunk, error) {
	ctx, span := tracer.Start(ctx, "fulltext.s3.chunks")
	defer span.End()
	span.SetAttributes(attribute.String("file.id", fileID))

	key := s.prefix + fileID + ".json"
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNoText
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get object failed")
		return nil, fmt.Errorf("failed to read text chunks %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body failed")
		return nil, fmt.Errorf("failed to read text chunks %s: %w", key, err)
	}

	var chunks []model.TextChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("failed to decode text chunks %s: %w", key, err)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Page < chunks[j].Page })
	return chunks, nil
}
