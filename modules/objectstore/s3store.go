// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hackclub/replit-lifeboat/modules/trace"
	"golang.org/x/sync/errgroup"
)

// partSize is the fixed multipart chunk size spec.md §4.10 names (100 MiB).
const partSize = 100 * 1024 * 1024

// maxConcurrentParts bounds simultaneous part uploads, spec.md §4.10.
const maxConcurrentParts = 8

// S3Store backs Store onto an R2 bucket through the S3-compatible API.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a client pointed at an R2 endpoint using static
// credentials, matching the R2_* configuration table in spec.md §6.
func NewS3Store(ctx context.Context, accountID, accessKey, secretKey, bucket, endpoint string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, trace.Errorf("objectstore: load aws config: %v", err)
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &S3Store{client: client, bucket: bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return trace.Errorf("objectstore: put %q: %v", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, trace.Errorf("objectstore: get %q: %v", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration, contentDisposition string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(contentDisposition),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", trace.Errorf("objectstore: presign %q: %v", key, err)
	}
	return req.URL, nil
}

// MultipartUpload streams r (size bytes total) to key in partSize chunks,
// uploading up to maxConcurrentParts parts concurrently, and aborts the
// whole upload if any part fails (mirrors the teacher's
// modules/oss/multipart.go abort-on-failure shape, reimplemented against
// the real S3 multipart API instead of a hand-rolled signer).
func (s *S3Store) MultipartUpload(ctx context.Context, key string, r io.Reader, size int64) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return trace.Errorf("objectstore: create multipart upload %q: %v", key, err)
	}
	uploadID := created.UploadId

	chunks := calculateChunks(size)
	parts := make([]types.CompletedPart, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentParts)

	for i, c := range chunks {
		i, c := i, c
		buf := make([]byte, c.length)
		if _, err := io.ReadFull(r, buf); err != nil {
			_ = s.abortMultipart(ctx, key, uploadID)
			return trace.Errorf("objectstore: read chunk %d of %q: %v", i, key, err)
		}
		g.Go(func() error {
			partNumber := int32(i + 1)
			out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf),
			})
			if err != nil {
				return &ErrPartUploadFailed{PartNumber: int(partNumber), Err: err}
			}
			parts[i] = types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = s.abortMultipart(ctx, key, uploadID)
		return trace.Errorf("objectstore: multipart upload %q: %v", key, err)
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		_ = s.abortMultipart(ctx, key, uploadID)
		return trace.Errorf("objectstore: complete multipart upload %q: %v", key, err)
	}
	return nil
}

func (s *S3Store) abortMultipart(ctx context.Context, key string, uploadID *string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		trace.Errorf("objectstore: abort multipart upload %q: %v", key, err)
	}
	return err
}

type chunk struct {
	length int64
}

// calculateChunks splits size into partSize pieces, the last one carrying
// the remainder, mirroring modules/oss/multipart.go's calculateChunk.
func calculateChunks(size int64) []chunk {
	if size <= 0 {
		return []chunk{{length: 0}}
	}
	var chunks []chunk
	remaining := size
	for remaining > 0 {
		n := int64(partSize)
		if remaining < n {
			n = remaining
		}
		chunks = append(chunks, chunk{length: n})
		remaining -= n
	}
	return chunks
}
