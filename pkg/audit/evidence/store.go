// Package evidence stores large audit payloads (LLM prompts/responses,
// retrieval context) content-addressed in S3 with SSE-KMS, and assembles
// investigation evidence packages from the audit hash chain.
package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ValidTypes enumerates the evidence kinds the package builder recognizes.
var ValidTypes = map[string]bool{
	"llm_prompt":          true,
	"llm_response":        true,
	"retrieval_context":   true,
	"raw_alert":           true,
	"investigation_state": true,
}

// Item is one piece of evidence to store alongside an audit record.
type Item struct {
	EvidenceType string
	Content      []byte
}

// Ref is the result of storing one evidence item: its content hash and
// the S3 URI it was written to. Both are empty on a fail-open failure.
type Ref struct {
	ContentHash string
	S3URI       string
}

// Store writes and reads evidence artifacts in S3/MinIO. Failures to
// store are fail-open per spec §4.5: evidence loss must never block the
// audit write it's attached to.
type Store struct {
	s3     *s3.Client
	bucket string
	logger *zap.Logger
}

// NewStore constructs a Store over the given S3 client and bucket.
func NewStore(s3Client *s3.Client, bucket string, logger *zap.Logger) *Store {
	return &Store{s3: s3Client, bucket: bucket, logger: logger}
}

// StoreEvidence writes content under a key derived from tenantID, the
// current date, auditID, and evidenceType, returning its content hash and
// S3 URI. On any failure it logs and returns a zero Ref rather than an
// error — the caller proceeds without the evidence link.
func (s *Store) StoreEvidence(ctx context.Context, tenantID, auditID, evidenceType string, content []byte) Ref {
	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/%s/%s/%s/%s.json",
		tenantID, now.Format("2006"), now.Format("01"), now.Format("02"), auditID, evidenceType)
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, key)

	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(content),
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	})
	if err != nil {
		s.logger.Warn("evidence store failed, continuing fire-and-forget",
			zap.String("tenant_id", tenantID), zap.String("audit_id", auditID), zap.Error(err))
		return Ref{}
	}

	return Ref{ContentHash: contentHash, S3URI: uri}
}

// StoreEvidenceBatch stores multiple items for the same audit event.
func (s *Store) StoreEvidenceBatch(ctx context.Context, tenantID, auditID string, items []Item) []Ref {
	refs := make([]Ref, 0, len(items))
	for _, item := range items {
		refs = append(refs, s.StoreEvidence(ctx, tenantID, auditID, item.EvidenceType, item.Content))
	}
	return refs
}

// RetrieveEvidence downloads the content at an s3:// URI.
func (s *Store) RetrieveEvidence(ctx context.Context, s3URI string) ([]byte, error) {
	bucket, key, err := parseS3URI(s3URI)
	if err != nil {
		return nil, err
	}
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyEvidence retrieves content and checks its SHA-256 against
// expectedHash.
func (s *Store) VerifyEvidence(ctx context.Context, s3URI, expectedHash string) (bool, error) {
	content, err := s.RetrieveEvidence(ctx, s3URI)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]) == expectedHash, nil
}

// BuildEvidenceRefs filters out failed (empty-URI) refs and returns the
// S3 URIs suitable for an audit record's evidence_refs context field.
func BuildEvidenceRefs(refs []Ref) []string {
	uris := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.S3URI != "" {
			uris = append(uris, r.S3URI)
		}
	}
	return uris
}

func parseS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	return parts[0], parts[1], nil
}
