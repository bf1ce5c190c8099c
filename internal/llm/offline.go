package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// OfflineDimensions matches the production embedding vector size so stored
// fingerprints stay comparable across providers.
const OfflineDimensions = 1536

// OfflineClient is a deterministic local provider. Completions echo the
// prompt head; embeddings are hash-derived unit vectors. Equal inputs always
// produce equal outputs, which the CBR idempotency guarantee relies on.
type OfflineClient struct{}

// NewOfflineClient returns the deterministic offline provider.
func NewOfflineClient() *OfflineClient {
	return &OfflineClient{}
}

// Complete returns a deterministic echo of the prompt's first line.
func (c *OfflineClient) Complete(_ context.Context, req Request) (string, error) {
	head := strings.TrimSpace(req.Prompt)
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if len(head) > 180 {
		head = head[:180]
	}
	return "Offline completion (mock LLM). Echo of prompt head: " + head, nil
}

// Embed derives a unit vector from SHA-256 digests of the text plus a
// little-endian counter, normalized to length one.
func (c *OfflineClient) Embed(_ context.Context, text string) ([]float32, error) {
	seed := []byte(text)
	raw := make([]float64, 0, OfflineDimensions+sha256.Size)

	var counter uint32
	for len(raw) < OfflineDimensions {
		var counterBytes [4]byte
		binary.LittleEndian.PutUint32(counterBytes[:], counter)
		digest := sha256.Sum256(append(append([]byte{}, seed...), counterBytes[:]...))
		for _, b := range digest {
			raw = append(raw, float64(b)/255.0)
		}
		counter++
	}
	raw = raw[:OfflineDimensions]

	var sum float64
	for _, v := range raw {
		sum += v * v
	}
	norm := math.Sqrt(sum)

	vector := make([]float32, OfflineDimensions)
	if norm == 0 {
		return vector, nil
	}
	for i, v := range raw {
		vector[i] = float32(v / norm)
	}
	return vector, nil
}
