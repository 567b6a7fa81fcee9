package encoder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// --- Sentinel Errors for Resolution Outcomes ---
var (
	ErrUnknownScheme      = errors.New("unknown encoding scheme")
	ErrEncoderUnavailable = errors.New("encoder unavailable") // Wraps the vocabulary source error
)

// WrapUnknownScheme attaches the offending name to ErrUnknownScheme.
func WrapUnknownScheme(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

// Encoder is the counting capability resolved for one scheme. Implementations
// are opaque to callers and are not assumed safe for unsynchronized concurrent
// use; the registry serializes all access.
type Encoder interface {
	// Count returns the number of BPE tokens in text. Special-token markers
	// appearing literally in the text (e.g. "<|endoftext|>") count as single
	// tokens rather than being split into their surface characters.
	Count(text string) int
	// Scheme reports the scheme this encoder was resolved for.
	Scheme() Scheme
}

// Resolver maps scheme names to ready Encoders. Resolution is a pure mapping
// plus one vocabulary lookup: no retries, no fallback scheme, no side effects
// on failure. The two failure classes are distinguished by sentinel:
// ErrUnknownScheme for names outside the closed set, ErrEncoderUnavailable
// when a recognized scheme's vocabulary cannot be loaded.
type Resolver interface {
	Resolve(name string) (Encoder, error)
}

// Dictionaries are embedded in the binary so resolution never touches the
// network. Installed once, process-wide.
var bpeLoaderOnce sync.Once

type tiktokenResolver struct{}

// NewTiktokenResolver returns the production Resolver, backed by the embedded
// tiktoken BPE vocabularies.
func NewTiktokenResolver() Resolver {
	return &tiktokenResolver{}
}

func (r *tiktokenResolver) Resolve(name string) (Encoder, error) {
	scheme, err := ParseScheme(name)
	if err != nil {
		return nil, err
	}

	bpeLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	tkm, err := tiktoken.GetEncoding(string(scheme))
	if err != nil {
		return nil, fmt.Errorf("%w: scheme %s (model %s): %v",
			ErrEncoderUnavailable, scheme, scheme.ModelID(), err)
	}
	return &tiktokenEncoder{enc: tkm, scheme: scheme}, nil
}

// tiktokenEncoder wraps one resolved tiktoken codec.
type tiktokenEncoder struct {
	enc    *tiktoken.Tiktoken
	scheme Scheme
}

// Count encodes with all special tokens allowed so marker text is segmented
// atomically instead of rejected.
func (e *tiktokenEncoder) Count(text string) int {
	return len(e.enc.Encode(text, []string{"all"}, nil))
}

func (e *tiktokenEncoder) Scheme() Scheme {
	return e.scheme
}
