package router

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const fallbackEncoding = "cl100k_base"

var (
	encMu     sync.Mutex
	encodings = make(map[string]*tiktoken.Tiktoken)
)

// CountTokens counts text with the model's tiktoken encoding, or cl100k_base
// for models tiktoken does not know. If no encoding can be loaded it falls
// back to one token per four bytes.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := encodingFor(model)
	if enc == nil {
		n := len(text) / 4
		if n == 0 {
			n = utf8.RuneCountInString(text)
		}
		return n
	}
	return len(enc.Encode(text, nil, nil))
}

func encodingFor(model string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()

	if enc, ok := encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("No tiktoken encoding available, using byte estimate")
		enc = nil
	}
	encodings[model] = enc
	return enc
}
