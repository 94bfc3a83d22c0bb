package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// Fetcher resolves image references to local files.
//
// Supported references:
//   - a local path or file:// URL
//   - http:// and https:// URLs
//   - s3://bucket/key
//
// Compressed images (.zst, .gz) are expanded into the download directory.
type Fetcher struct {
	config Config
	http   *retryablehttp.Client
}

// NewFetcher creates a Fetcher.
//
// Example:
//
//	f := source.NewFetcher(source.WithDownloadDir("/var/cache/images"))
//	src, err := f.Fetch(ctx, "https://mirror.example.com/lpi4a/root.ext4.zst")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
func NewFetcher(opts ...Option) *Fetcher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := retryhttp.NewClient(cfg.Logger)
	client.CheckRetry = createCustomRetryFunction(cfg.Logger)

	return &Fetcher{config: cfg, http: client}
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, requestErr error) (bool, error) {
		shouldRetry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, requestErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", shouldRetry, err, requestErr)
		return shouldRetry, err
	}
}

// Fetch resolves ref and opens the resulting image.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Source, error) {
	local, err := f.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return Open(local)
}

// Resolve downloads and decompresses ref as needed and returns a local path.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("image reference is empty")
	}

	var local string
	u, err := url.Parse(ref)
	switch {
	case err == nil && (u.Scheme == "http" || u.Scheme == "https"):
		local, err = f.fetchHTTP(ctx, u)
	case err == nil && u.Scheme == "s3":
		local, err = f.fetchS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case err == nil && u.Scheme == "file":
		local, err = checkLocal(u.Path)
	default:
		local, err = checkLocal(ref)
	}
	if err != nil {
		return "", err
	}

	if IsCompressed(local) {
		f.config.Logger.Debugf("Decompressing %s", local)
		return Decompress(local, f.config.DownloadDir)
	}
	return local, nil
}

func checkLocal(p string) (string, error) {
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return "", err
	}
	return p, nil
}

// destination returns the download path for a remote object name.
func (f *Fetcher) destination(name string) (string, error) {
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("cannot derive a file name from %q", name)
	}
	if err := os.MkdirAll(f.config.DownloadDir, 0755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	return filepath.Join(f.config.DownloadDir, base), nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL) (string, error) {
	dest, err := f.destination(u.Path)
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequest(http.MethodHead, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := f.http.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("request %s: %w", u.Redacted(), err)
	}
	resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%w: %s", ErrNotFound, u.Redacted())
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("request %s: %s", u.Redacted(), resp.Status)
	}

	if resp.ContentLength > 0 {
		f.config.Logger.Printf("Downloading %s (%s)", path.Base(dest), units.HumanSizeWithPrecision(float64(resp.ContentLength), 3))
	} else {
		f.config.Logger.Printf("Downloading %s", path.Base(dest))
	}

	downloader := got.New()
	downloader.Client = f.http.StandardClient()
	if err := downloader.Do(got.NewDownload(ctx, u.String(), dest)); err != nil {
		return "", fmt.Errorf("download %s: %w", u.Redacted(), err)
	}

	if resp.ContentLength > 0 {
		info, err := os.Stat(dest)
		if err != nil {
			return "", err
		}
		if info.Size() != resp.ContentLength {
			return "", fmt.Errorf("download %s: got %d bytes, expected %d", u.Redacted(), info.Size(), resp.ContentLength)
		}
	}
	return dest, nil
}

func (f *Fetcher) s3Client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(f.config.S3Region),
	}
	if f.config.S3AccessKeyID != "" && f.config.S3SecretAccessKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				f.config.S3AccessKeyID, f.config.S3SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if f.config.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(f.config.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (f *Fetcher) fetchS3(ctx context.Context, bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("invalid s3 reference s3://%s/%s", bucket, key)
	}

	client, err := f.s3Client(ctx)
	if err != nil {
		return "", err
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			if _, ok := apiError.(*types.NotFound); ok {
				return "", fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
			}
		}
		return "", fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	dest, err := f.destination(key)
	if err != nil {
		return "", err
	}
	f.config.Logger.Printf("Downloading %s (%s)", path.Base(dest),
		units.HumanSizeWithPrecision(float64(aws.ToInt64(head.ContentLength)), 3))

	err = retry.Times(f.config.Retries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			f.config.Logger.Warnf("Retrying download of s3://%s/%s (attempt %d)", bucket, key, attempt+1)
		}

		file, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create file: %w", err), true
		}
		defer file.Close() //nolint:errcheck

		downloader := manager.NewDownloader(client)
		if _, err := downloader.Download(ctx, file, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("download object: %w", err), ctx.Err() != nil
		}
		return nil, true
	})
	if err != nil {
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return dest, nil
}
