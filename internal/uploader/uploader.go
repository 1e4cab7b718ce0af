package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
)

// objectPutter is the part of the S3 client the uploader uses
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configure an Uploader
type Options struct {
	Bucket      string
	Region      string
	Prefix      string
	RoleARN     string // OIDC web identity role; empty uses static or default credentials
	AccessKeyID string
	SecretKey   string
	DeleteAfter bool
	MaxRetries  int
}

// Uploader archives closed journal files to S3
type Uploader struct {
	s3          objectPutter
	bucket      string
	prefix      string
	deleteAfter bool
	maxRetries  int
	backoff     time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// flyTokenRetriever implements stscreds.IdentityTokenRetriever for Fly.io OIDC
type flyTokenRetriever struct {
	socketPath string
	audience   string
}

// GetIdentityToken fetches an OIDC token from Fly.io's Unix socket API
func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", f.socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	reqBody, err := json.Marshal(map[string]string{"aud": f.audience})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.Post("http://localhost/v1/tokens/oidc", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// New creates an S3 uploader. RoleARN selects OIDC web identity, otherwise
// static keys are used when set, otherwise the default credential chain.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.RoleARN == "" && opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(cfg),
			opts.RoleARN,
			&flyTokenRetriever{socketPath: "/.fly/api", audience: "sts.amazonaws.com"},
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
		logger.Info("Using OIDC authentication for S3", zap.String("role_arn", opts.RoleARN))
	} else if opts.AccessKeyID != "" {
		logger.Info("Using static credentials for S3")
	}

	return newUploader(s3.NewFromConfig(cfg), opts, logger), nil
}

func newUploader(client objectPutter, opts Options, logger *zap.Logger) *Uploader {
	return &Uploader{
		s3:          client,
		bucket:      opts.Bucket,
		prefix:      strings.Trim(opts.Prefix, "/"),
		deleteAfter: opts.DeleteAfter,
		maxRetries:  opts.MaxRetries,
		backoff:     time.Second,
		logger:      logger,
	}
}

// ScanAndUploadExisting uploads journal files left over from a previous run
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	var found int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		found++
		u.spawn(ctx, filepath.Join(dir, entry.Name()))
	}
	u.logger.Info("Scanned for existing journal files", zap.String("dir", dir), zap.Int("found", found))
	return nil
}

// Start uploads each file received on fileChan until ctx is cancelled
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case localPath := <-fileChan:
			u.spawn(ctx, localPath)

		case <-ctx.Done():
			u.logger.Info("Uploader shutting down...")
			return ctx.Err()
		}
	}
}

// Wait blocks until in-flight uploads finish
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) spawn(ctx context.Context, localPath string) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.uploadWithRetry(ctx, localPath)
	}()
}

// uploadWithRetry reports whether the file reached S3
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) bool {
	filename := filepath.Base(localPath)

	key, err := u.objectKey(filename)
	if err != nil {
		u.logger.Error("Error generating S3 key", zap.String("file", filename), zap.Error(err))
		return false
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, key)
		if err == nil {
			u.logger.Info("Uploaded journal file",
				zap.String("file", filename), zap.String("bucket", u.bucket), zap.String("key", key))
			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					u.logger.Error("Error deleting local file", zap.String("file", localPath), zap.Error(err))
				}
			}
			return true
		}

		if attempt < u.maxRetries {
			backoff := u.backoff * time.Duration(1<<uint(attempt))
			u.logger.Warn("Upload attempt failed, retrying",
				zap.String("file", filename),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", u.maxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
		}
	}

	u.logger.Error("Giving up on upload", zap.String("file", filename), zap.Int("attempts", u.maxRetries+1))
	return false
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (u *Uploader) objectKey(filename string) (string, error) {
	key, err := generateS3Key(filename)
	if err != nil {
		return "", err
	}
	if u.prefix == "" {
		return key, nil
	}
	return path.Join(u.prefix, key), nil
}

// generateS3Key maps a journal file name to its archive key:
// relay_hangman_20251230_1030.jsonl -> 2025/12/30/hangman/relay/relay_hangman_20251230_1030.jsonl
func generateS3Key(filename string) (string, error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".jsonl"), "_")
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	// Page names may contain underscores, so parse from the end
	n := len(parts)
	t, err := time.Parse("20060102_1504", parts[n-2]+"_"+parts[n-1])
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}
	surface := parts[n-3]
	page := strings.Join(parts[:n-3], "_")

	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s",
		t.Year(), t.Month(), t.Day(), surface, page, filename), nil
}
