package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/distr1/whey/internal/upload"
	"golang.org/x/xerrors"
)

const uploadHelp = `whey [-flags] upload -bucket=BUCKET [-flags]

Upload the wheels built for the variant to an S3-compatible bucket. Wheels
whose object already exists with the same size are skipped.

Credentials are taken from -access-key-id/-secret-access-key if set, and the
default AWS credential chain (AWS_ACCESS_KEY_ID etc.) otherwise.

Example:
  % whey -variant=gpu upload -bucket=wheels -endpoint=https://minio.example:9000
`

func runUpload(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("upload", flag.ExitOnError)
	var (
		bucket    = fset.String("bucket", "", "bucket to upload to (required)")
		endpoint  = fset.String("endpoint", "", "if non-empty, S3 endpoint URL (e.g. of MinIO or R2) to use instead of AWS")
		region    = fset.String("region", "", "bucket region (default: from the AWS configuration)")
		prefix    = fset.String("prefix", "", "object key prefix (default: the variant)")
		keyID     = fset.String("access-key-id", "", "if non-empty, access key ID to use instead of the default credential chain")
		secretKey = fset.String("secret-access-key", "", "secret access key belonging to -access-key-id")
		jobs      = fset.Int("jobs", 4, "number of concurrent uploads")
	)
	fset.Usage = usage(fset, uploadHelp)
	fset.Parse(args)
	if *bucket == "" {
		return xerrors.Errorf("syntax: upload -bucket=BUCKET")
	}

	d, err := dirs()
	if err != nil {
		return err
	}
	if *prefix == "" {
		*prefix = string(d.Variant)
	}
	client, err := upload.NewClient(ctx, upload.Options{
		Endpoint:        *endpoint,
		Region:          *region,
		AccessKeyID:     *keyID,
		SecretAccessKey: *secretKey,
	})
	if err != nil {
		return err
	}
	u := &upload.Uploader{
		Client: client,
		Bucket: *bucket,
		Prefix: *prefix,
		Log:    logger,
		Jobs:   *jobs,
	}
	keys, err := u.Upload(ctx, d.WheelsDownloads())
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	fmt.Fprintf(os.Stderr, "uploaded %d wheels to s3://%s/%s\n", len(keys), *bucket, *prefix)
	return nil
}
