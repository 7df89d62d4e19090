// Package dedup decides whether generated question text is already present in
// the question bank.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/phrazzld/scry-exam/internal/domain"
)

// Fingerprint returns the hex SHA-256 digest of the trimmed text.
// Leading and trailing whitespace never changes the result.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// FingerprintLookup reports which fingerprints already exist in the question bank.
type FingerprintLookup interface {
	ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
}

// Checker answers duplicate queries against the question bank.
type Checker struct {
	lookup FingerprintLookup
}

// NewChecker creates a Checker backed by lookup.
func NewChecker(lookup FingerprintLookup) *Checker {
	return &Checker{lookup: lookup}
}

// IsDuplicate reports whether text, once trimmed, is already in the bank.
func (c *Checker) IsDuplicate(ctx context.Context, text string) (bool, error) {
	fp := Fingerprint(text)
	found, err := c.lookup.ExistingFingerprints(ctx, []string{fp})
	if err != nil {
		return false, fmt.Errorf("%w: fingerprint lookup: %v", domain.ErrPersistence, err)
	}
	return found[fp], nil
}

// Accepted is a candidate that passed deduplication, with its fingerprint.
type Accepted struct {
	Candidate   domain.CandidateQuestion
	Fingerprint string
}

// FilterNew drops candidates that are empty, already in the bank, or repeat an
// earlier candidate of the same batch. Order is preserved.
func (c *Checker) FilterNew(ctx context.Context, candidates []domain.CandidateQuestion) ([]Accepted, error) {
	fps := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		fps = append(fps, Fingerprint(cand.Content))
	}
	if len(fps) == 0 {
		return nil, nil
	}

	existing, err := c.lookup.ExistingFingerprints(ctx, fps)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint lookup: %v", domain.ErrPersistence, err)
	}

	seen := make(map[string]struct{}, len(fps))
	accepted := make([]Accepted, 0, len(candidates))
	for i, cand := range candidates {
		fp := fps[i]
		if strings.TrimSpace(cand.Content) == "" || existing[fp] {
			continue
		}
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		accepted = append(accepted, Accepted{Candidate: cand, Fingerprint: fp})
	}
	return accepted, nil
}
