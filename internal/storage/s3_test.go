package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects  map[string][]byte
	putFails int
	puts     int
	pageSize int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}, pageSize: 1000} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	if f.putFails > 0 {
		f.putFails--
		return nil, errors.New("slow down")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+f.pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func newArchive(f *fakeS3) *Archive {
	a := NewArchiveWithClient(f, "bucket")
	a.now = func() time.Time { return time.Date(2026, 3, 4, 23, 0, 0, 0, time.FixedZone("X", -3600)) }
	return a
}

func TestArchive_PutGet(t *testing.T) {
	f := newFakeS3()
	a := newArchive(f)
	ctx := context.Background()

	key, err := a.Put(ctx, MalformedPrefix, "b1", []byte(`{"nodes":`))
	require.NoError(t, err)
	assert.Equal(t, "malformed/2026-03-05/b1.json", key)

	data, err := a.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":`, string(data))

	_, err = a.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestArchive_PutRetries(t *testing.T) {
	f := newFakeS3()
	f.putFails = 2
	a := newArchive(f)

	_, err := a.Put(context.Background(), DeadLetterPrefix, "b1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 3, f.puts)

	f.putFails = 3
	_, err = a.Put(context.Background(), DeadLetterPrefix, "b2", []byte(`{}`))
	assert.Error(t, err)
}

func TestArchive_ListPaginates(t *testing.T) {
	f := newFakeS3()
	f.pageSize = 1
	a := newArchive(f)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := a.Put(ctx, MalformedPrefix, id, []byte(`{}`))
		require.NoError(t, err)
	}
	_, err := a.Put(ctx, DeadLetterPrefix, "d", []byte(`{}`))
	require.NoError(t, err)

	keys, err := a.List(ctx, MalformedPrefix+"/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"malformed/2026-03-05/a.json",
		"malformed/2026-03-05/b.json",
		"malformed/2026-03-05/c.json",
	}, keys)
}
