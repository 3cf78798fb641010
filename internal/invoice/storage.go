package invoice

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// ObjectStore is where rendered invoice documents end up.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// OSSStore uploads documents to an Aliyun OSS bucket.
type OSSStore struct {
	bucket   *oss.Bucket
	endpoint string
	name     string
}

func NewOSSStore(endpoint, accessKeyID, accessKeySecret, bucketName string) (*OSSStore, error) {
	client, err := oss.New(endpoint, accessKeyID, accessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", bucketName, err)
	}
	return &OSSStore{bucket: bucket, endpoint: endpoint, name: bucketName}, nil
}

func (s *OSSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := s.bucket.PutObject(key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.%s/%s", s.name, s.endpoint, key), nil
}
