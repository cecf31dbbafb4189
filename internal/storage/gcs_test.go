package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(k)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestNewGCS_RequiresBucketAndSigner(t *testing.T) {
	_, err := NewGCS(Options{})
	require.Error(t, err)

	_, err = NewGCS(Options{Bucket: "artwork"})
	require.Error(t, err)

	_, err = NewGCS(Options{Bucket: "artwork", CredentialsJSON: `{"client_email": "x@y"}`})
	require.Error(t, err)
}

func TestSignUpload_WithServiceAccountJSON(t *testing.T) {
	creds, err := json.Marshal(serviceAccountJSON{
		ClientEmail: "uploader@smartmarket.iam.gserviceaccount.com",
		PrivateKey:  strings.ReplaceAll(testKeyPEM(t), "\n", `\n`),
	})
	require.NoError(t, err)

	g, err := NewGCS(Options{Bucket: "artwork", CredentialsJSON: string(creds), UploadExpiry: 10 * time.Minute})
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	up, err := g.SignUpload(context.Background(), "work-orders/5/banner.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "PUT", up.Method)
	assert.Equal(t, "application/pdf", up.Headers["Content-Type"])
	assert.Equal(t, fixed.Add(10*time.Minute), up.ExpiresAt)
	assert.Equal(t, "https://storage.googleapis.com/artwork/work-orders/5/banner.pdf", up.AccessURL)

	u, err := url.Parse(up.UploadURL)
	require.NoError(t, err)
	assert.Contains(t, u.Path, "/artwork/work-orders/5/banner.pdf")
	assert.Equal(t, "GOOG4-RSA-SHA256", u.Query().Get("X-Goog-Algorithm"))
	assert.Equal(t, "600", u.Query().Get("X-Goog-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Goog-Signature"))
}

func TestSignUpload_WithIAMSigner(t *testing.T) {
	g, err := NewGCS(Options{Bucket: "artwork", SignerEmail: "run@smartmarket.iam.gserviceaccount.com"})
	require.NoError(t, err)
	var signed []byte
	g.signBlob = func(_ context.Context, payload []byte) ([]byte, error) {
		signed = payload
		return []byte("signature"), nil
	}

	up, err := g.SignUpload(context.Background(), "work-orders/1/a.png", "")
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.Equal(t, "application/octet-stream", up.Headers["Content-Type"])
	assert.Contains(t, up.UploadURL, "X-Goog-Signature=")
}

func TestWorkOrderObjectKey(t *testing.T) {
	key := WorkOrderObjectKey(12, `C:\Users\jane\Final Banner (v2).pdf`)
	assert.True(t, strings.HasPrefix(key, "work-orders/12/"))
	assert.True(t, strings.HasSuffix(key, "-Final_Banner_v2_.pdf"), key)

	assert.True(t, strings.HasSuffix(WorkOrderObjectKey(3, "../.."), "-artwork"))
}
