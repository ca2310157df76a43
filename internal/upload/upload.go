// Package upload publishes the output area of a variant to an S3-compatible
// bucket.
package upload

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Options configures the S3 client.
type Options struct {
	// Endpoint overrides the AWS endpoint, e.g. for MinIO or Cloudflare R2.
	Endpoint string
	Region   string

	// AccessKeyID and SecretAccessKey, if set, are used instead of the
	// default credential chain (environment, shared config files).
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient returns an S3 client using path-style addressing.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	options := []func(*config.LoadOptions) error{
		// S3-compatible stores commonly reject the optional CRC checksums.
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	}
	if opts.Region != "" {
		options = append(options, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, xerrors.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// Uploader copies wheels into Bucket below Prefix.
type Uploader struct {
	Client *s3.Client
	Bucket string
	Prefix string
	Log    logrus.FieldLogger

	// Jobs bounds the number of concurrent uploads. Zero means 4.
	Jobs int
}

func (u *Uploader) key(fn string) string {
	return path.Join(u.Prefix, fn)
}

// existing returns the sizes of the objects below Prefix, keyed by object key.
func (u *Uploader) existing(ctx context.Context) (map[string]int64, error) {
	sizes := make(map[string]int64)
	prefix := u.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	p := s3.NewListObjectsV2Paginator(u.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Errorf("listing s3://%s/%s: %w", u.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			sizes[aws.ToString(obj.Key)] = aws.ToInt64(obj.Size)
		}
	}
	return sizes, nil
}

func (u *Uploader) put(ctx context.Context, key, fn string) error {
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return xerrors.Errorf("uploading %s: %w", fn, err)
	}
	return nil
}

// Upload uploads every wheel in dir which is not already present in the
// bucket with the same size, and returns the keys it uploaded.
func (u *Uploader) Upload(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sizes, err := u.existing(ctx)
	if err != nil {
		return nil, err
	}
	jobs := u.Jobs
	if jobs == 0 {
		jobs = 4
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(jobs)
	uploaded := make(chan string, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".whl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		key := u.key(e.Name())
		if size, ok := sizes[key]; ok && size == info.Size() {
			if u.Log != nil {
				u.Log.WithField("key", key).Debugf("already uploaded")
			}
			continue
		}
		fn := filepath.Join(dir, e.Name())
		eg.Go(func() error {
			if err := u.put(ctx, key, fn); err != nil {
				return err
			}
			if u.Log != nil {
				u.Log.WithField("key", key).Infof("uploaded %s", fn)
			}
			uploaded <- key
			return nil
		})
	}
	err = eg.Wait()
	close(uploaded)
	var keys []string
	for k := range uploaded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, err
}
