package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	listCalls int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

// ListObjectsV2 pages over sorted keys; the continuation token is the last
// key returned.
func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	var keys []string
	for k := range f.objects {
		if len(k) >= len(aws.ToString(in.Prefix)) && k[:len(aws.ToString(in.Prefix))] == aws.ToString(in.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	after := aws.ToString(in.ContinuationToken)
	start := sort.SearchStrings(keys, after)
	if after != "" && start < len(keys) && keys[start] == after {
		start++
	}
	limit := int(aws.ToInt32(in.MaxKeys))
	end := min(start+limit, len(keys))

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func TestParseS3AndRedact(t *testing.T) {
	conn := "s3://AKIA:s3cr3t@minio.local:9000/media/washer?region=eu-west-1&insecure=true"
	loc, err := ParseS3(conn)
	require.NoError(t, err)
	assert.Equal(t, "AKIA", loc.AccessKey)
	assert.Equal(t, "s3cr3t", loc.Secret)
	assert.Equal(t, "http://minio.local:9000", loc.Endpoint)
	assert.Equal(t, "media", loc.Bucket)
	assert.Equal(t, "washer", loc.Prefix)
	assert.Equal(t, "eu-west-1", loc.Region)

	redacted := RedactConn(conn)
	assert.NotContains(t, redacted, "s3cr3t")
	assert.NotContains(t, redacted, "AKIA")

	b := newS3Backend(newFakeS3(), loc)
	assert.Equal(t, "s3://minio.local:9000/media/washer", b.String())
	assert.Equal(t, "http://minio.local:9000/media/washer", b.BaseURL())

	_, err = ParseS3("s3://host")
	require.Error(t, err)
}

func TestS3GetMissingIsNotFound(t *testing.T) {
	b := newS3Backend(newFakeS3(), S3Location{Bucket: "b", Endpoint: "https://h"})
	_, err := b.Get(t.Context(), "nope")
	require.True(t, IsNotFound(err))
}

func TestS3CleanStopsAtFirstFreshPage(t *testing.T) {
	api := newFakeS3()
	b := newS3Backend(api, S3Location{Bucket: "b", Endpoint: "https://h"})
	b.pageSize = 2

	days := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-02-01", "2024-02-02", "2024-02-03", "2024-02-04"}
	for i, d := range days {
		require.NoError(t, b.Put(t.Context(), "news/"+d+"/"+strconv.Itoa(i)+"/manifest.json", []byte("{}")))
	}
	require.NoError(t, b.Put(t.Context(), "other/2020-01-01/x/manifest.json", []byte("{}")))

	removed, err := b.CleanBefore(t.Context(), "news/", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, api.listCalls, "listing must stop at the page holding a fresh object")

	_, err = b.Get(t.Context(), "news/2024-01-03/2/manifest.json")
	assert.True(t, IsNotFound(err))
	_, err = b.Get(t.Context(), "news/2024-02-01/3/manifest.json")
	assert.NoError(t, err)
	_, err = b.Get(t.Context(), "other/2020-01-01/x/manifest.json")
	assert.NoError(t, err, "other stages are untouched")
}
