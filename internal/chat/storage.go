// internal/chat/storage.go
// Blob store collaborator. The chat core hands a file over and stores the
// returned descriptor; it never serves the bytes itself.

package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

type BlobStore interface {
	Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*Attachment, error)
}

type s3BlobStore struct {
	s3Client     *s3.S3
	bucketName   string
	baseURL      string
	maxFileSize  int64
	allowedTypes []string
}

// NewS3BlobStore creates the S3-backed blob store used for message
// attachments.
func NewS3BlobStore(awsSession *session.Session, bucketName, baseURL string, maxFileSize int64) BlobStore {
	return &s3BlobStore{
		s3Client:    s3.New(awsSession),
		bucketName:  bucketName,
		baseURL:     baseURL,
		maxFileSize: maxFileSize,
		allowedTypes: []string{
			"image/jpeg", "image/png", "image/gif", "image/webp",
			"application/pdf", "application/zip",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"text/plain",
		},
	}
}

func (s *s3BlobStore) Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*Attachment, error) {
	contentType := header.Header.Get("Content-Type")
	if !s.isAllowedType(contentType) {
		return nil, fmt.Errorf("%w: file type %s not allowed", ErrValidation, contentType)
	}

	buf := new(bytes.Buffer)
	size, err := io.Copy(buf, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if size > s.maxFileSize {
		return nil, fmt.Errorf("%w: file exceeds the %d byte limit", ErrValidation, s.maxFileSize)
	}

	ext := filepath.Ext(header.Filename)
	key := fmt.Sprintf("chat/%s/%s%s",
		time.Now().Format("2006/01/02"),
		uuid.New().String(),
		ext,
	)

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &Attachment{
		FileName:     filepath.Base(key),
		OriginalName: header.Filename,
		FileURL:      fmt.Sprintf("%s/%s", s.baseURL, key),
		FileSize:     size,
		MimeType:     contentType,
	}, nil
}

func (s *s3BlobStore) isAllowedType(contentType string) bool {
	for _, allowed := range s.allowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}
