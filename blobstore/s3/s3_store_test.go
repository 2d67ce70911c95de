package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/reynaldliu/milvus/blobstore"
)

// fakeClient is an in-memory stand-in for Client, enough to exercise Store
// without a real bucket.
type fakeClient struct {
	objects map[string][]byte
}

func newFakeClient() *fakeClient { return &fakeClient{objects: map[string][]byte{}} }

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := c.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := c.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(c.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) AbortMultipartUpload(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (c *fakeClient) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("fakeClient: multipart upload not supported")
}

func (c *fakeClient) UploadPart(_ context.Context, _ *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("fakeClient: multipart upload not supported")
}

func (c *fakeClient) CompleteMultipartUpload(_ context.Context, _ *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("fakeClient: multipart upload not supported")
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var contents []types.Object
	for key := range c.objects {
		if len(*in.Prefix) == 0 || (len(key) >= len(*in.Prefix) && key[:len(*in.Prefix)] == *in.Prefix) {
			k := key
			contents = append(contents, types.Object{Key: &k})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func TestStorePutOpenDelete(t *testing.T) {
	client := newFakeClient()
	store := NewStore(client, "bucket", "vectors")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "seg/1", []byte("hello world")))

	blob, err := store.Open(ctx, "seg/1")
	require.NoError(t, err)
	defer blob.Close()
	require.EqualValues(t, len("hello world"), blob.Size())

	buf := make([]byte, blob.Size())
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))

	require.NoError(t, store.Delete(ctx, "seg/1"))
	_, err = store.Open(ctx, "seg/1")
	require.True(t, errors.Is(err, blobstore.ErrNotFound))
}

func TestStoreList(t *testing.T) {
	client := newFakeClient()
	store := NewStore(client, "bucket", "vectors")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "coll/a", []byte("a")))
	require.NoError(t, store.Put(ctx, "coll/b", []byte("b")))

	names, err := store.List(ctx, "coll")
	require.NoError(t, err)
	require.Len(t, names, 2)
}
