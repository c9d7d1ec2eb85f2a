// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultBaseURL is the public HTTPS endpoint of Bucket.
const DefaultBaseURL = "https://" + Bucket + ".s3.amazonaws.com"

// DefaultRegion is the region Bucket lives in.
const DefaultRegion = "us-east-1"

// pathPrefix is the exact prefix every record path must start with.
const pathPrefix = "s3://" + Bucket + "/" + Prefix + "/"

// ObjectKey returns the key of r's image inside Bucket.
func ObjectKey(r Record) (string, error) {
	rel, ok := strings.CutPrefix(r.Path, pathPrefix)
	if !ok {
		return "", fmt.Errorf("%q: %w", r.Path, ErrUnexpectedPath)
	}
	return Prefix + "/" + rel + r.Filename, nil
}

// ObjectURL returns the public HTTPS URL of r's image.
func ObjectURL(r Record) (string, error) {
	return objectURL(DefaultBaseURL, r)
}

func objectURL(base string, r Record) (string, error) {
	key, err := ObjectKey(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(base, "/") + "/" + key, nil
}

// safeFilename rejects filenames that are not a single path element.
func safeFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%q: %w", name, ErrUnsafeFilename)
	}
	return nil
}

// ObjectFetcher retrieves the image behind a record. Implementations must be
// safe for concurrent use.
type ObjectFetcher interface {
	Fetch(ctx context.Context, r Record) (io.ReadCloser, error)
}

// HTTPFetcher downloads images with anonymous HTTPS GET requests.
type HTTPFetcher struct {
	// Client is the HTTP client. If nil, a default client is built.
	Client *http.Client

	// BaseURL replaces DefaultBaseURL, e.g. for a mirror.
	BaseURL string
}

// NewHTTPFetcher returns an HTTPFetcher against baseURL with a shared
// default client. An empty baseURL means DefaultBaseURL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{Client: buildHTTPClient(), BaseURL: baseURL}
}

// Fetch implements ObjectFetcher. Non-2xx answers become *StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, r Record) (io.ReadCloser, error) {
	base := f.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := objectURL(base, r)
	if err != nil {
		return nil, err
	}

	httpc := f.Client
	if httpc == nil {
		httpc = buildHTTPClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "pineapple/1")

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        u,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp.Body, nil
}

// s3GetObjectAPI is the part of the S3 client S3Fetcher needs.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads images through the S3 API with anonymous credentials.
type S3Fetcher struct {
	client s3GetObjectAPI
}

// NewS3Fetcher builds an anonymous S3 client for Bucket. An empty region
// defaults to DefaultRegion; endpoint, when set, replaces the AWS endpoint.
func NewS3Fetcher(ctx context.Context, region, endpoint string) (*S3Fetcher, error) {
	if region == "" {
		region = DefaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{client: client}, nil
}

// Fetch implements ObjectFetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, r Record) (io.ReadCloser, error) {
	key, err := ObjectKey(r)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", Bucket, key, err)
	}
	return out.Body, nil
}
