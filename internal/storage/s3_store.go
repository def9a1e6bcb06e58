package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultPageSize is the ListObjectsV2 page size used by CleanBefore.
const DefaultPageSize = 1000

// objectAPI is the narrow slice of the S3 client the backend uses.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Location is a parsed s3:// connection string:
//
//	s3://ACCESS_KEY:SECRET@host[:port]/bucket[/prefix]?region=eu-west-1&insecure=true
type S3Location struct {
	AccessKey string
	Secret    string
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
}

// ParseS3 parses an s3:// connection string.
func ParseS3(conn string) (S3Location, error) {
	u, err := url.Parse(conn)
	if err != nil {
		return S3Location{}, fmt.Errorf("parse %s: %w", RedactConn(conn), err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return S3Location{}, fmt.Errorf("expected s3://host/bucket, got %s", RedactConn(conn))
	}
	bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if bucket == "" {
		return S3Location{}, fmt.Errorf("missing bucket in %s", RedactConn(conn))
	}
	loc := S3Location{
		Bucket: bucket,
		Prefix: strings.Trim(prefix, "/"),
		Region: u.Query().Get("region"),
	}
	if u.User != nil {
		loc.AccessKey = u.User.Username()
		loc.Secret, _ = u.User.Password()
	}
	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	loc.Endpoint = scheme + "://" + u.Host
	if loc.Region == "" {
		loc.Region = "us-east-1"
	}
	return loc, nil
}

// RedactConn strips credentials from a connection string for logging.
func RedactConn(conn string) string {
	u, err := url.Parse(conn)
	if err != nil || u.User == nil {
		if i := strings.Index(conn, "@"); i >= 0 {
			if j := strings.Index(conn, "://"); j >= 0 && j < i {
				return conn[:j+3] + conn[i+1:]
			}
		}
		return conn
	}
	u.User = nil
	return u.String()
}

// S3Backend stores objects in an S3 compatible bucket.
type S3Backend struct {
	api      objectAPI
	loc      S3Location
	pageSize int32
}

// NewS3Backend creates a backend from an s3:// connection string. Credentials
// embedded in the URL take precedence over the default AWS chain.
func NewS3Backend(ctx context.Context, conn string) (*S3Backend, error) {
	loc, err := ParseS3(conn)
	if err != nil {
		return nil, err
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(loc.Region)}
	if loc.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(loc.AccessKey, loc.Secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(loc.Endpoint)
		o.UsePathStyle = true
	})
	return newS3Backend(client, loc), nil
}

func newS3Backend(api objectAPI, loc S3Location) *S3Backend {
	return &S3Backend{api: api, loc: loc, pageSize: DefaultPageSize}
}

func (b *S3Backend) String() string {
	return "s3://" + strings.TrimPrefix(strings.TrimPrefix(b.loc.Endpoint, "https://"), "http://") + "/" + joinKey(b.loc.Bucket, b.loc.Prefix)
}

func (b *S3Backend) BaseURL() string {
	return b.loc.Endpoint + "/" + joinKey(b.loc.Bucket, b.loc.Prefix)
}

func (b *S3Backend) key(k string) string {
	return joinKey(b.loc.Prefix, k)
}

func (b *S3Backend) Validate(ctx context.Context) error {
	if _, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.loc.Bucket)}); err != nil {
		return fmt.Errorf("bucket %s: %w", b.loc.Bucket, err)
	}
	return nil
}

func (b *S3Backend) PutFile(ctx context.Context, key, localPath, contentType string) (int64, error) {
	f, err := os.Open(localPath) // #nosec G304 - file inside the download temp workspace
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if contentType == "" {
		if mt, err := mimetype.DetectFile(localPath); err == nil {
			contentType = mt.String()
		}
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.loc.Bucket),
		Key:           aws.String(b.key(key)),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return fi.Size(), nil
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.loc.Bucket),
		Key:           aws.String(b.key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.loc.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CleanBefore walks the prefix page by page. Keys sort chronologically, so
// once a page holds an object that is not expired no later page can hold an
// expired one and listing stops.
func (b *S3Backend) CleanBefore(ctx context.Context, prefix, cutoff string) (int, error) {
	full := b.key(prefix) + "/"
	removed := 0
	var token *string
	for {
		out, err := b.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.loc.Bucket),
			Prefix:            aws.String(full),
			MaxKeys:           aws.Int32(b.pageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return removed, fmt.Errorf("list %s: %w", full, err)
		}

		var expired []s3types.ObjectIdentifier
		fresh := false
		for _, obj := range out.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), full)
			bucket, _, _ := strings.Cut(rest, "/")
			if bucket < cutoff {
				expired = append(expired, s3types.ObjectIdentifier{Key: obj.Key})
			} else {
				fresh = true
			}
		}
		if len(expired) > 0 {
			res, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(b.loc.Bucket),
				Delete: &s3types.Delete{Objects: expired, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return removed, fmt.Errorf("delete expired objects: %w", err)
			}
			removed += len(expired) - len(res.Errors)
			if len(res.Errors) > 0 {
				e := res.Errors[0]
				return removed, fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
			}
		}
		if fresh || !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return removed, nil
		}
		token = out.NextContinuationToken
	}
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
