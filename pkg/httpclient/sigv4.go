package httpclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SigV4Config configures AWS request signing for calls to AWS-hosted
// endpoints (API Gateway, OpenSearch, and similar services fronting
// network inventory or archival APIs).
type SigV4Config struct {
	// Service is the AWS service name the endpoint belongs to (required).
	Service string

	// Region is the AWS region (required).
	Region string

	// ValidateCredentials calls STS GetCallerIdentity at construction so a
	// misconfigured credential chain fails fast instead of on first use.
	ValidateCredentials bool
}

// Validate checks the configuration.
func (c *SigV4Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("sigv4: service is required")
	}
	if c.Region == "" {
		return fmt.Errorf("sigv4: region is required")
	}
	return nil
}

// SigV4Transport is an http.RoundTripper that signs every request with AWS
// Signature Version 4 before delegating to the base transport.
type SigV4Transport struct {
	base    http.RoundTripper
	cfg     SigV4Config
	awsCfg  aws.Config
	signer  *v4.Signer
	credMu  sync.Mutex
	cred    aws.Credentials
	fetched time.Time
}

// NewSigV4Transport builds a signing transport on top of base (nil means
// http.DefaultTransport), loading credentials from the default AWS chain.
func NewSigV4Transport(ctx context.Context, base http.RoundTripper, cfg SigV4Config) (*SigV4Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultTransport
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("sigv4: load AWS configuration: %w", err)
	}

	t := &SigV4Transport{
		base:   base,
		cfg:    cfg,
		awsCfg: awsCfg,
		signer: v4.NewSigner(),
	}

	if cfg.ValidateCredentials {
		validateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		stsClient := sts.NewFromConfig(awsCfg)
		if _, err := stsClient.GetCallerIdentity(validateCtx, &sts.GetCallerIdentityInput{}); err != nil {
			return nil, fmt.Errorf("sigv4: credential validation failed: %w", err)
		}
	}
	return t, nil
}

// RoundTrip signs req and forwards it.
func (t *SigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, err := t.credentials(req.Context())
	if err != nil {
		return nil, err
	}

	// SigV4 requires the payload hash; buffer the body to compute it.
	payloadHash := emptyPayloadHash
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("sigv4: read request body: %w", err)
		}
		sum := sha256.Sum256(body)
		payloadHash = hex.EncodeToString(sum[:])
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	if err := t.signer.SignHTTP(req.Context(), cred, req, payloadHash, t.cfg.Service, t.cfg.Region, time.Now()); err != nil {
		return nil, fmt.Errorf("sigv4: sign request: %w", err)
	}
	return t.base.RoundTrip(req)
}

var emptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// credentials returns cached credentials, refreshing when within five
// minutes of expiry.
func (t *SigV4Transport) credentials(ctx context.Context) (aws.Credentials, error) {
	t.credMu.Lock()
	defer t.credMu.Unlock()

	if !t.fetched.IsZero() && !t.cred.Expired() {
		if t.cred.Expires.IsZero() || time.Until(t.cred.Expires) > 5*time.Minute {
			return t.cred, nil
		}
	}

	cred, err := t.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("sigv4: retrieve credentials: %w", err)
	}
	t.cred = cred
	t.fetched = time.Now()
	return cred, nil
}
