// Package storage issues signed upload URLs for work-order artwork kept in
// Google Cloud Storage. Only opaque object URLs ever reach the database.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iamcredentials/v1"
)

// SignedUpload tells a client how to PUT a file directly to the bucket.
type SignedUpload struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"object_key"`
	AccessURL string            `json:"access_url"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type Options struct {
	Bucket          string
	CredentialsJSON string
	SignerEmail     string
	SignerKey       string
	UploadExpiry    time.Duration
}

// GCS signs V4 PUT URLs. With a service-account key it signs locally;
// with only a signer email it signs through the IAM credentials API.
type GCS struct {
	bucket   string
	accessID string
	key      []byte
	signBlob func(ctx context.Context, payload []byte) ([]byte, error)
	expiry   time.Duration
	now      func() time.Time
}

type serviceAccountJSON struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

func NewGCS(opts Options) (*GCS, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	g := &GCS{bucket: bucket, expiry: opts.UploadExpiry, now: time.Now}
	if g.expiry <= 0 {
		g.expiry = 15 * time.Minute
	}

	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		var sa serviceAccountJSON
		if err := json.Unmarshal([]byte(opts.CredentialsJSON), &sa); err != nil {
			return nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if sa.ClientEmail == "" || sa.PrivateKey == "" {
			return nil, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
		}
		g.accessID, g.key = sa.ClientEmail, normalizePrivateKey(sa.PrivateKey)
	case opts.SignerEmail != "" && opts.SignerKey != "":
		g.accessID, g.key = opts.SignerEmail, normalizePrivateKey(opts.SignerKey)
	case opts.SignerEmail != "":
		g.accessID = opts.SignerEmail
		g.signBlob = iamSignBlob(opts.SignerEmail)
	default:
		return nil, errors.New("GCS signer credentials are required")
	}
	return g, nil
}

// env files usually carry the PEM with literal \n sequences
func normalizePrivateKey(key string) []byte {
	return []byte(strings.ReplaceAll(key, `\n`, "\n"))
}

func iamSignBlob(email string) func(context.Context, []byte) ([]byte, error) {
	resource := "projects/-/serviceAccounts/" + email
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		svc, err := iamcredentials.NewService(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create iamcredentials service: %w", err)
		}
		resp, err := svc.Projects.ServiceAccounts.SignBlob(resource, &iamcredentials.SignBlobRequest{
			Payload: base64.StdEncoding.EncodeToString(payload),
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to sign blob: %w", err)
		}
		return base64.StdEncoding.DecodeString(resp.SignedBlob)
	}
}

// SignUpload returns a V4 signed PUT URL for objectKey.
func (g *GCS) SignUpload(ctx context.Context, objectKey, contentType string) (*SignedUpload, error) {
	if objectKey == "" {
		return nil, errors.New("object key is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "PUT",
		Expires:        g.now().Add(g.expiry),
		ContentType:    contentType,
		GoogleAccessID: g.accessID,
		PrivateKey:     g.key,
	}
	if g.signBlob != nil {
		opts.PrivateKey = nil
		opts.SignBytes = func(b []byte) ([]byte, error) { return g.signBlob(ctx, b) }
	}

	signed, err := storage.SignedURL(g.bucket, objectKey, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload url: %w", err)
	}
	return &SignedUpload{
		UploadURL: signed,
		Method:    opts.Method,
		Headers:   map[string]string{"Content-Type": contentType},
		ObjectKey: objectKey,
		AccessURL: g.AccessURL(objectKey),
		ExpiresAt: opts.Expires,
	}, nil
}

// AccessURL is the stable object URL stored on the work order.
func (g *GCS) AccessURL(objectKey string) string {
	u := url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + g.bucket + "/" + objectKey}
	return u.String()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// WorkOrderObjectKey namespaces an uploaded file under its work order.
func WorkOrderObjectKey(workOrderID int, filename string) string {
	name := unsafeName.ReplaceAllString(path.Base(strings.ReplaceAll(filename, `\`, "/")), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "artwork"
	}
	return fmt.Sprintf("work-orders/%d/%s-%s", workOrderID, uuid.NewString(), name)
}
