// internal/storage/images.go
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	apperrors "github.com/Corphon/SceneChronicle/internal/errors"
)

// ImageDir is the FileStorage directory generated images live under.
const ImageDir = "images"

func imageName(contentType string) string {
	ext := ".png"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	}
	return uuid.NewString() + ext
}

// LocalImages writes images to the data directory; the HTTP server
// serves them under PublicPath.
type LocalImages struct {
	fs         *FileStorage
	PublicPath string
}

// NewLocalImages 创建本地图片存储
func NewLocalImages(fs *FileStorage, publicPath string) *LocalImages {
	if publicPath == "" {
		publicPath = "/images"
	}
	return &LocalImages{fs: fs, PublicPath: strings.TrimRight(publicPath, "/")}
}

// Save implements services.ImageStore.
func (l *LocalImages) Save(_ context.Context, scenarioID string, data []byte, contentType string) (string, error) {
	name := imageName(contentType)
	if err := l.fs.SaveFile(path.Join(ImageDir, scenarioID), name, data); err != nil {
		return "", err
	}
	return l.PublicPath + "/" + scenarioID + "/" + name, nil
}

// Delete removes an image previously returned by Save. Other references
// are ignored.
func (l *LocalImages) Delete(_ context.Context, ref string) error {
	rest, ok := strings.CutPrefix(ref, l.PublicPath+"/")
	if !ok {
		return nil
	}
	dir, name := path.Split(rest)
	if dir == "" || strings.Contains(rest, "..") {
		return nil
	}
	return l.fs.DeleteFile(path.Join(ImageDir, dir), name)
}

// S3Client abstracts the S3 operations used by S3Images. *s3.Client
// satisfies it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options 对象存储配置
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // S3 兼容服务（MinIO、R2 等）
	Prefix    string
	AccessKey string
	SecretKey string
	// PublicBaseURL, when set, is joined with the object key to form the
	// returned reference. Otherwise an s3:// URI is returned.
	PublicBaseURL string
}

// S3Images uploads images to an S3-compatible bucket.
type S3Images struct {
	client S3Client
	opts   S3Options
}

// NewS3Client builds an *s3.Client from static options.
func NewS3Client(opts S3Options) *s3.Client {
	o := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.Endpoint != "",
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" {
		creds := aws.Credentials{AccessKeyID: opts.AccessKey, SecretAccessKey: opts.SecretKey, Source: "scenechronicle"}
		o.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}))
	}
	return s3.New(o)
}

// NewS3Images 创建对象存储图片仓库
func NewS3Images(client S3Client, opts S3Options) (*S3Images, error) {
	if opts.Bucket == "" {
		return nil, apperrors.NewValidationError("s3 bucket is required", nil)
	}
	return &S3Images{client: client, opts: opts}, nil
}

func (s *S3Images) key(scenarioID, name string) string {
	k := path.Join(ImageDir, scenarioID, name)
	if s.opts.Prefix == "" {
		return k
	}
	return strings.Trim(s.opts.Prefix, "/") + "/" + k
}

func (s *S3Images) ref(key string) string {
	if s.opts.PublicBaseURL != "" {
		return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, key)
}

// Save implements services.ImageStore.
func (s *S3Images) Save(ctx context.Context, scenarioID string, data []byte, contentType string) (string, error) {
	key := s.key(scenarioID, imageName(contentType))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", apperrors.FromRemote("s3 upload failed", err)
	}
	return s.ref(key), nil
}

// Delete removes the object behind a reference returned by Save.
func (s *S3Images) Delete(ctx context.Context, ref string) error {
	key, ok := s.keyOf(ref)
	if !ok {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return apperrors.FromRemote("s3 delete failed", err)
	}
	return nil
}

func (s *S3Images) keyOf(ref string) (string, bool) {
	for _, base := range []string{strings.TrimRight(s.opts.PublicBaseURL, "/") + "/", fmt.Sprintf("s3://%s/", s.opts.Bucket)} {
		if base != "/" && strings.HasPrefix(ref, base) {
			return strings.TrimPrefix(ref, base), true
		}
	}
	return "", false
}

// isS3NotFound reports whether err indicates the object does not exist.
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
