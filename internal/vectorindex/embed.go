package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lifelensai/lifelens/internal/reliability"
)

// EmbeddingFunc turns text into a vector. It is chromem's embedding signature.
type EmbeddingFunc = chromem.EmbeddingFunc

// NewOllamaEmbedder embeds through an Ollama /api/embeddings endpoint. url may be the
// full endpoint or the /api base. Each call is bounded by timeout and retried on
// transient failures.
func NewOllamaEmbedder(url, model string, timeout time.Duration) EmbeddingFunc {
	base := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(url), "/"), "/embeddings")
	embed := chromem.NewEmbeddingFuncOllama(model, base)
	policy := reliability.Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		ShouldRetry: isTransientEmbeddingError,
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var out []float32
		err := reliability.Do(ctx, policy, func(ctx context.Context) error {
			v, err := embed(ctx, text)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		return out, nil
	}
}

// chromem reports non-200 responses as "error response from the embedding API: <status>".
func isTransientEmbeddingError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	i := strings.LastIndex(msg, "API: ")
	if i < 0 {
		return false
	}
	fields := strings.Fields(msg[i+len("API: "):])
	if len(fields) == 0 {
		return false
	}
	code, convErr := strconv.Atoi(fields[0])
	return convErr == nil && reliability.IsRetryableHTTPStatus(code)
}

// HashDimensions is the vector size produced by NewHashEmbedder.
const HashDimensions = 256

// NewHashEmbedder returns a deterministic bag-of-words embedder: each lower-cased
// word is hashed into a bucket and the counts are normalised. Texts sharing words
// score higher than unrelated ones, which is all local runs and tests need.
func NewHashEmbedder() EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, HashDimensions)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, w := range words {
			h := fnv.New64a()
			_, _ = h.Write([]byte(w))
			vec[h.Sum64()%HashDimensions]++
		}
		if len(words) == 0 {
			vec[0] = 1
		}
		return normalize(vec), nil
	}
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
