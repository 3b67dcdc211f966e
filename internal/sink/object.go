package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tobert/render-trace/internal/report"
)

// Object encodings for stored reports.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// ObjectConfig configures an S3 compatible bucket sink.
type ObjectConfig struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	Prefix    string // key prefix, e.g. "staging/"
	Format    string // FormatJSON (default) or FormatMsgpack
	Verbose   bool
}

// objectAPI is the part of the bucket client Object needs.
type objectAPI interface {
	put(ctx context.Context, key, contentType string, data []byte) (string, error)
	list(ctx context.Context, prefix string) ([]string, error)
	get(ctx context.Context, key string) ([]byte, error)
}

// Object stores reports as one object each and files under exports/.
type Object struct {
	api     objectAPI
	prefix  string
	format  string
	verbose bool
}

// NewObject connects to the bucket, creating it when missing.
func NewObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("🪣 Created bucket: %s\n", cfg.Bucket)
	}

	return newObject(&minioAPI{client: client, bucket: cfg.Bucket}, cfg)
}

func newObject(api objectAPI, cfg ObjectConfig) (*Object, error) {
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatMsgpack {
		return nil, fmt.Errorf("unknown object format %q", cfg.Format)
	}
	return &Object{api: api, prefix: cfg.Prefix, format: format, verbose: cfg.Verbose}, nil
}

func (o *Object) reportKey(id string) string {
	return o.prefix + "reports/" + id + "." + o.format
}

// Publish stores r as its own object.
func (o *Object) Publish(ctx context.Context, r *report.Report) error {
	if err := validName(r.ID); err != nil {
		return fmt.Errorf("report id: %w", err)
	}

	var (
		data        []byte
		contentType string
		err         error
	)
	switch o.format {
	case FormatMsgpack:
		data, err = report.MarshalMsgpack(r)
		contentType = "application/msgpack"
	default:
		var buf bytes.Buffer
		err = report.Encode(&buf, r)
		data = buf.Bytes()
		contentType = "application/json"
	}
	if err != nil {
		return err
	}

	location, err := o.api.put(ctx, o.reportKey(r.ID), contentType, data)
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", r.ID, err)
	}
	if o.verbose {
		log.Printf("🪣 stored report %s at %s\n", r.ID, location)
	}
	return nil
}

// PutFile stores data under exports/name.
func (o *Object) PutFile(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	location, err := o.api.put(ctx, o.prefix+"exports/"+name, contentType, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return location, nil
}

// Load publishes every stored report to pub, oldest key first. Objects that
// fail to decode are skipped.
func (o *Object) Load(ctx context.Context, pub Publisher) (int, error) {
	keys, err := o.api.list(ctx, o.prefix+"reports/")
	if err != nil {
		return 0, fmt.Errorf("failed to list reports: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		data, err := o.api.get(ctx, key)
		if err != nil {
			return loaded, fmt.Errorf("failed to fetch %s: %w", key, err)
		}
		r, err := decodeObject(key, data)
		if err != nil {
			if o.verbose {
				log.Printf("⚠️  sink: skipping %s: %v\n", key, err)
			}
			continue
		}
		if err := pub.Publish(ctx, r); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// decodeObject picks the codec from the key's extension.
func decodeObject(key string, data []byte) (*report.Report, error) {
	switch path.Ext(key) {
	case "." + FormatMsgpack:
		return report.UnmarshalMsgpack(data)
	case "." + FormatJSON:
		return report.Decode(bytes.TrimSpace(data))
	}
	return nil, fmt.Errorf("unknown report encoding")
}

// minioAPI adapts a minio client bound to one bucket.
type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m *minioAPI) put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", m.bucket, info.Key), nil
}

func (m *minioAPI) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !strings.HasSuffix(obj.Key, "/") {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

func (m *minioAPI) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
