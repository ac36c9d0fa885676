package fulltext

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderas/lattice/pkg/model"
)

func TestMemorySource(t *testing.T) {
	src := NewMemory()
	src.Put("f1", []model.TextChunk{{Page: 1, Text: "first page"}})

	chunks, err := src.Chunks(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "first page", chunks[0].Text)

	_, err = src.Chunks(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoText)
}

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3SourceOrdersByPage(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{
		"text/f1.json": []byte(`[{"page":2,"text":"second"},{"page":1,"text":"first"}]`),
	}}
	src := NewS3(client, "bucket", "text/")

	chunks, err := src.Chunks(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, "first", chunks[0].Text)
}

func TestS3SourceMissingKey(t *testing.T) {
	src := NewS3(&fakeS3{objects: map[string][]byte{}}, "bucket", "text/")
	_, err := src.Chunks(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestS3SourceErrors(t *testing.T) {
	src := NewS3(&fakeS3{err: errors.New("throttled")}, "bucket", "text/")
	_, err := src.Chunks(context.Background(), "f1")
	assert.ErrorContains(t, err, "throttled")

	bad := &fakeS3{objects: map[string][]byte{"text/f1.json": []byte("not json")}}
	_, err = NewS3(bad, "bucket", "text/").Chunks(context.Background(), "f1")
	assert.ErrorContains(t, err, "decode")
}
