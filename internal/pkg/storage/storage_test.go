package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"invoicehub/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestLocal_PutDelete(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC) }

	ref, err := l.Put(context.Background(), "application/pdf", strings.NewReader("%PDF-1.4"), 8)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "invoices/2026/04/"), ref)
	require.True(t, strings.HasSuffix(ref, ".pdf"), ref)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref)))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, l.Delete(context.Background(), ref))
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(ref)))
	require.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, l.Delete(context.Background(), ref), "deleting twice is fine")
}

func TestLocal_ShortWriteCleansUp(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	_, err = l.Put(context.Background(), "image/png", strings.NewReader("abc"), 10)
	require.Error(t, err)

	var files []string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.Empty(t, files)
}

func TestLocal_DeleteRejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.Error(t, l.Delete(context.Background(), "../etc/passwd"))
	require.Error(t, l.Delete(context.Background(), ""))
}

type fakeS3 struct {
	put    *s3.PutObjectInput
	body   string
	delKey string
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.put = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.delKey = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_PutDelete(t *testing.T) {
	fake := &fakeS3{}
	s := newS3(fake, "attachments")

	ref, err := s.Put(context.Background(), "image/jpeg", strings.NewReader("jpeg"), 4)
	require.NoError(t, err)
	require.Equal(t, "attachments", aws.ToString(fake.put.Bucket))
	require.Equal(t, ref, aws.ToString(fake.put.Key))
	require.Equal(t, "image/jpeg", aws.ToString(fake.put.ContentType))
	require.EqualValues(t, 4, aws.ToInt64(fake.put.ContentLength))
	require.Equal(t, "jpeg", fake.body)
	require.True(t, strings.HasSuffix(ref, ".jpg"))

	require.NoError(t, s.Delete(context.Background(), ref))
	require.Equal(t, ref, fake.delKey)
}

func TestS3_PutError(t *testing.T) {
	s := newS3(&fakeS3{err: errors.New("access denied")}, "attachments")
	_, err := s.Put(context.Background(), "image/png", strings.NewReader("x"), 1)
	require.ErrorContains(t, err, "access denied")
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), &config.StorageConfig{Driver: "ftp"})
	require.Error(t, err)
}
