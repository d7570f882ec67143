package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
)

// AnnotateTransform stamps a fixed annotation onto every text chunk.
type AnnotateTransform struct {
	key   string
	value string
}

func NewAnnotateTransform(key, value string) *AnnotateTransform {
	return &AnnotateTransform{key: key, value: value}
}

func (t *AnnotateTransform) InputKind() ChunkKind  { return KindText }
func (t *AnnotateTransform) OutputKind() ChunkKind { return KindText }

func (t *AnnotateTransform) Run(ctx context.Context, in <-chan Chunk, emit EmitFunc) error {
	return eachText(ctx, in, func(chunk Chunk) error {
		return emit(TextChunk(chunk.Text, chunk.Meta.WithAnnotation(t.key, t.value)))
	})
}

// PrefixTransform prepends a fixed prefix to every text chunk.
type PrefixTransform struct {
	prefix string
}

func NewPrefixTransform(prefix string) *PrefixTransform {
	return &PrefixTransform{prefix: prefix}
}

func (t *PrefixTransform) InputKind() ChunkKind  { return KindText }
func (t *PrefixTransform) OutputKind() ChunkKind { return KindText }

func (t *PrefixTransform) Run(ctx context.Context, in <-chan Chunk, emit EmitFunc) error {
	return eachText(ctx, in, func(chunk Chunk) error {
		return emit(TextChunk(t.prefix+chunk.Text, chunk.Meta))
	})
}

// AccumulatorConfig bounds the accumulator's buffer. A zero threshold means
// unlimited for that dimension; at least one must be set. Characters are
// counted as Unicode code points, not UTF-16 code units or bytes.
type AccumulatorConfig struct {
	MaxChunks     int
	MaxCharacters int
	MaxUTF8Bytes  int
}

// AccumulatorTransform is the engine's only accumulating transform. It
// buffers text chunks until a configured boundary is crossed, then flushes
// one merged chunk; whatever remains is flushed unconditionally at end of
// stream.
type AccumulatorTransform struct {
	cfg AccumulatorConfig
}

func NewAccumulatorTransform(cfg AccumulatorConfig) (*AccumulatorTransform, error) {
	if cfg.MaxChunks == 0 && cfg.MaxCharacters == 0 && cfg.MaxUTF8Bytes == 0 {
		return nil, errors.New("accumulator requires at least one threshold")
	}
	if cfg.MaxChunks < 0 || cfg.MaxCharacters < 0 || cfg.MaxUTF8Bytes < 0 {
		return nil, errors.New("accumulator thresholds must be positive")
	}
	return &AccumulatorTransform{cfg: cfg}, nil
}

func (t *AccumulatorTransform) InputKind() ChunkKind  { return KindText }
func (t *AccumulatorTransform) OutputKind() ChunkKind { return KindText }

func (t *AccumulatorTransform) Run(ctx context.Context, in <-chan Chunk, emit EmitFunc) error {
	var (
		buffered strings.Builder
		metas    []Metadata
		chunks   int
		chars    int
		bytes    int
	)

	flush := func() error {
		chunk := TextChunk(buffered.String(), MergeMetadata(metas...))
		buffered.Reset()
		metas = metas[:0]
		chunks, chars, bytes = 0, 0, 0
		return emit(chunk)
	}

	err := eachText(ctx, in, func(chunk Chunk) error {
		buffered.WriteString(chunk.Text)
		metas = append(metas, chunk.Meta)
		chunks++
		chars += utf8.RuneCountInString(chunk.Text)
		bytes += len(chunk.Text)

		if t.shouldFlush(chunks, chars, bytes) {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if chunks > 0 {
		return flush()
	}
	return nil
}

func (t *AccumulatorTransform) shouldFlush(chunks, chars, bytes int) bool {
	if t.cfg.MaxChunks > 0 && chunks >= t.cfg.MaxChunks {
		return true
	}
	if t.cfg.MaxCharacters > 0 && chars >= t.cfg.MaxCharacters {
		return true
	}
	if t.cfg.MaxUTF8Bytes > 0 && bytes >= t.cfg.MaxUTF8Bytes {
		return true
	}
	return false
}

// DecodeTransform turns byte chunks into text chunks using the encoding the
// upstream metadata declares. It never guesses: a missing or unsupported
// encoding name fails the run with a decode failure.
type DecodeTransform struct{}

func NewDecodeTransform() *DecodeTransform { return &DecodeTransform{} }

func (t *DecodeTransform) InputKind() ChunkKind  { return KindBytes }
func (t *DecodeTransform) OutputKind() ChunkKind { return KindText }

func (t *DecodeTransform) Run(ctx context.Context, in <-chan Chunk, emit EmitFunc) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			if chunk.Kind != KindBytes {
				return wrongKindError(FailureTransform, KindBytes, chunk.Kind)
			}

			name := strings.TrimSpace(chunk.Meta.TextEncodingName)
			if name == "" {
				return &DecodeError{SafeMessage: "bytes chunk missing declared text encoding"}
			}

			enc, err := ianaindex.IANA.Encoding(name)
			if err != nil || enc == nil {
				return &DecodeError{SafeMessage: fmt.Sprintf("unsupported encoding %q", name), Err: err}
			}

			decoded, err := enc.NewDecoder().Bytes(chunk.Bytes)
			if err != nil {
				return &DecodeError{SafeMessage: "failed to decode bytes", Err: err}
			}

			if err := emit(TextChunk(string(decoded), chunk.Meta)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// eachText iterates text chunks, failing on any other chunk kind.
func eachText(ctx context.Context, in <-chan Chunk, fn func(Chunk) error) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			if chunk.Kind != KindText {
				return wrongKindError(FailureTransform, KindText, chunk.Kind)
			}
			if err := fn(chunk); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
