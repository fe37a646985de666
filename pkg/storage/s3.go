package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client abstracts the S3 API operations used by [S3Store]. The
// [s3.Client] type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements Backend against Amazon S3 or any S3-compatible
// object store (MinIO, R2, etc.). Namespaces and ids are mapped into a
// single flat key under an optional prefix: {prefix}/{ns}/{id}.
//
// The caller is responsible for configuring the [s3.Client] with
// appropriate credentials, region, and endpoint; nvdb never owns
// credential material itself.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed Backend. client is typically an *s3.Client;
// any type satisfying [S3Client] is accepted, which keeps the store
// mockable in tests. Prefix is prepended to all object keys; pass "" for
// none.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(ns, id string) string {
	k := ns + "/" + id
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *S3Store) nsPrefix(ns string) string {
	if s.prefix == "" {
		return ns + "/"
	}
	return s.prefix + "/" + ns + "/"
}

func (s *S3Store) Put(ctx context.Context, ns, id string, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ns, id)),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return &Error{Kind: classifyS3(err), Op: "put", Ns: ns, ID: id, Err: err}
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, ns, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ns, id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, &Error{Kind: classifyS3(err), Op: "get", Ns: ns, ID: id, Err: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: "get", Ns: ns, ID: id, Err: err}
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, ns, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ns, id)),
	})
	if err != nil && !isS3NotFound(err) {
		return &Error{Kind: classifyS3(err), Op: "delete", Ns: ns, ID: id, Err: err}
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, ns, prefix string) iter.Seq2[Entry, error] {
	fullPrefix := s.nsPrefix(ns) + prefix
	stripLen := len(s.nsPrefix(ns))

	return func(yield func(Entry, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(fullPrefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(Entry{}, &Error{Kind: classifyS3(err), Op: "list", Ns: ns, Err: err})
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if len(key) < stripLen {
					continue
				}
				id := key[stripLen:]
				size := int64(0)
				if obj.Size != nil {
					size = *obj.Size
				}
				if !yield(Entry{ID: id, Size: size}, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Store) EstimateUsage(ctx context.Context) (Usage, error) {
	var used int64
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Usage{}, &Error{Kind: classifyS3(err), Op: "estimate-usage", Err: err}
		}
		for _, obj := range page.Contents {
			if obj.Size != nil {
				used += *obj.Size
			}
		}
	}
	return Usage{UsedBytes: used, QuotaBytes: UnknownQuota, Details: map[string]any{"bucket": s.bucket}}, nil
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// classifyS3 maps an S3 SDK error onto the backend-agnostic Kind
// taxonomy so the retry wrapper can decide whether to back off.
func classifyS3(err error) Kind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return KindAuth
		case "QuotaExceeded", "ServiceQuotaExceededException":
			return KindQuotaExceeded
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling":
			return KindTransient
		}
	}
	return KindBackendSpecific
}
