package embedding

import (
	"fmt"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
)

// CLIP special token IDs (byte-level BPE vocabulary).
const (
	clipBOSTokenID = 49406
	clipEOSTokenID = 49407
	clipVocabSize  = 49408
)

// Tokenizer produces token IDs padded and truncated to a fixed length,
// in the shape the CLIP text model expects (input_ids, attention_mask).
type Tokenizer interface {
	Tokenize(text string) (inputIDs, attentionMask []int64)
}

// clipTokenizer wraps the pretrained tokenizer downloaded from the model hub.
type clipTokenizer struct {
	tok       tokenizers.Tokenizer
	maxTokens int
}

// newCLIPTokenizer loads the tokenizer files for modelID into cacheDir.
func newCLIPTokenizer(modelID, cacheDir string, maxTokens int) (*clipTokenizer, error) {
	repo := hub.New(modelID).WithCacheDir(cacheDir)
	tok, err := tokenizers.New(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer for %s: %w", modelID, err)
	}
	return &clipTokenizer{tok: tok, maxTokens: maxTokens}, nil
}

// Tokenize encodes text with the pretrained vocabulary, truncates to the
// context length, and pads with EOS (CLIP's pad token) to a fixed shape.
func (t *clipTokenizer) Tokenize(text string) ([]int64, []int64) {
	ids := t.tok.Encode(text)
	return padAndMask(ids, t.maxTokens)
}

// padAndMask truncates ids to maxTokens (keeping a trailing EOS) and pads
// the remainder with the CLIP pad token, masked out.
func padAndMask(ids []int, maxTokens int) ([]int64, []int64) {
	if maxTokens <= 0 {
		maxTokens = 77
	}
	if len(ids) > maxTokens {
		ids = ids[:maxTokens]
		ids[maxTokens-1] = clipEOSTokenID
	}
	inputIDs := make([]int64, maxTokens)
	attentionMask := make([]int64, maxTokens)
	for i, id := range ids {
		inputIDs[i] = int64(id)
		attentionMask[i] = 1
	}
	for i := len(ids); i < maxTokens; i++ {
		inputIDs[i] = clipEOSTokenID
	}
	return inputIDs, attentionMask
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs
// (for testing or fallback when no pretrained tokenizer is available).
type SimpleTokenizer struct {
	MaxTokens int
}

// Tokenize splits text into whitespace words and produces padded token IDs.
func (t *SimpleTokenizer) Tokenize(text string) ([]int64, []int64) {
	maxTokens := t.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 77
	}
	ids := []int{clipBOSTokenID}
	for _, word := range splitWords(text) {
		if len(ids) >= maxTokens-1 {
			break
		}
		ids = append(ids, hashString(word)%clipBOSTokenID)
	}
	ids = append(ids, clipEOSTokenID)
	return padAndMask(ids, maxTokens)
}

// splitWords splits text on whitespace and returns non-empty words.
func splitWords(text string) []string {
	var words []string
	word := ""
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			if word != "" {
				words = append(words, word)
				word = ""
			}
		} else {
			word += string(r)
		}
	}
	if word != "" {
		words = append(words, word)
	}
	return words
}

// hashString returns a deterministic hash for use as a simple token ID.
func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
