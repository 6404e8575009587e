package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/maneesh/dropstream/internal/upload"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("dropstream-storage")

// mirrorPartSize is the multipart chunk size used for uploads of unknown length
const mirrorPartSize = 16 * 1024 * 1024

// MinioMirror copies every stored file into a MinIO bucket
type MinioMirror struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

// NewMinioMirror initializes a new MinIO client and makes sure the bucket exists
func NewMinioMirror(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioMirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	mm := &MinioMirror{
		client:     client,
		bucketName: bucketName,
		prefix:     "uploads",
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		logrus.WithField("bucket", bucketName).Info("creating mirror bucket")
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return mm, nil
}

// ObjectKey returns where a file is mirrored inside the bucket
func (mm *MinioMirror) ObjectKey(fileName string) string {
	return path.Join(mm.prefix, fileName)
}

// Open starts a streaming PutObject for fileName. Bytes written to the returned
// writer are forwarded as they arrive; Close waits for MinIO to acknowledge.
func (mm *MinioMirror) Open(ctx context.Context, fileName string) (upload.MirrorWriter, error) {
	objectKey := mm.ObjectKey(fileName)
	ctx, span := tracer.Start(ctx, "minio.mirror_object",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
		),
	)

	pr, pw := io.Pipe()
	w := &minioWriter{pw: pw, done: make(chan error, 1), span: span}

	go func() {
		info, err := mm.client.PutObject(ctx, mm.bucketName, objectKey, pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    mirrorPartSize,
		})
		if err != nil {
			pr.CloseWithError(err)
			w.done <- fmt.Errorf("failed to mirror object: %w", err)
			return
		}
		span.SetAttributes(attribute.Int64("size_bytes", info.Size))
		w.done <- nil
	}()

	return w, nil
}

type minioWriter struct {
	pw   *io.PipeWriter
	done chan error
	span trace.Span
}

func (w *minioWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *minioWriter) Close() error {
	defer w.span.End()

	w.pw.Close()
	if err := <-w.done; err != nil {
		w.span.RecordError(err)
		return err
	}
	return nil
}

func (w *minioWriter) Abort(cause error) {
	defer w.span.End()

	w.pw.CloseWithError(cause)
	<-w.done
}
