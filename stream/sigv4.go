package stream

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const signingService = "es"

// SigningTransport signs search domain requests with AWS Signature Version 4.
type SigningTransport struct {
	// Base performs the signed request. Nil means http.DefaultTransport.
	Base        http.RoundTripper
	Credentials aws.CredentialsProvider
	Region      string

	signer *v4.Signer
	now    func() time.Time
}

// NewSigningTransport creates a transport that signs with the given credentials.
func NewSigningTransport(base http.RoundTripper, credentials aws.CredentialsProvider, region string) *SigningTransport {
	return &SigningTransport{
		Base:        base,
		Credentials: credentials,
		Region:      region,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

func (t *SigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	creds, err := t.Credentials.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("retrieve credentials: %w", err)
	}

	// RoundTrip must not modify the caller's request.
	signed := req.Clone(req.Context())
	var payload []byte
	if req.Body != nil {
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		signed.Body = io.NopCloser(bytes.NewReader(payload))
		signed.ContentLength = int64(len(payload))
	}
	hash := sha256.Sum256(payload)

	if err := t.signer.SignHTTP(req.Context(), creds, signed, hex.EncodeToString(hash[:]), signingService, t.Region, t.now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}
