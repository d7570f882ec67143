package pipeline

import (
	"context"
	"strings"
)

// TextSource emits a fixed text as one chunk.
type TextSource struct {
	text string
	meta Metadata
}

func NewTextSource(text string, meta Metadata) *TextSource {
	return &TextSource{text: text, meta: meta}
}

func (s *TextSource) OutputKind() ChunkKind { return KindText }

func (s *TextSource) Stream(ctx context.Context, emit EmitFunc) error {
	return emit(TextChunk(s.text, s.meta))
}

// TextStreamSource emits one chunk per string received on a channel.
type TextStreamSource struct {
	tokens <-chan string
	meta   Metadata
}

func NewTextStreamSource(tokens <-chan string, meta Metadata) *TextStreamSource {
	return &TextStreamSource{tokens: tokens, meta: meta}
}

func (s *TextStreamSource) OutputKind() ChunkKind { return KindText }

func (s *TextStreamSource) Stream(ctx context.Context, emit EmitFunc) error {
	for {
		select {
		case tok, ok := <-s.tokens:
			if !ok {
				return nil
			}
			if err := emit(TextChunk(tok, s.meta)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ByteStreamSource emits byte chunks tagged with an explicit encoding name
// so a decode transform downstream never has to guess.
type ByteStreamSource struct {
	payloads <-chan []byte
	encoding string
}

func NewByteStreamSource(payloads <-chan []byte, encodingName string) *ByteStreamSource {
	return &ByteStreamSource{payloads: payloads, encoding: encodingName}
}

func (s *ByteStreamSource) OutputKind() ChunkKind { return KindBytes }

func (s *ByteStreamSource) Stream(ctx context.Context, emit EmitFunc) error {
	if strings.TrimSpace(s.encoding) == "" {
		return &StageError{Kind: FailureSource, SafeMessage: "byte stream requires an explicit encoding name"}
	}
	meta := Metadata{TextEncodingName: s.encoding}
	for {
		select {
		case b, ok := <-s.payloads:
			if !ok {
				return nil
			}
			if err := emit(BytesChunk(b, meta)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CollectSink concatenates every text chunk and returns the result together
// with the merged metadata of everything it saw.
type CollectSink struct {
	builder strings.Builder
	meta    Metadata
}

func NewCollectSink() *CollectSink { return &CollectSink{} }

func (s *CollectSink) InputKind() ChunkKind { return KindText }

// Metadata returns the merged metadata of all consumed chunks.
func (s *CollectSink) Metadata() Metadata { return s.meta }

func (s *CollectSink) Consume(ctx context.Context, in <-chan Chunk) (string, error) {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return s.builder.String(), nil
			}
			if chunk.Kind != KindText {
				return s.builder.String(), wrongKindError(FailureSink, KindText, chunk.Kind)
			}
			s.builder.WriteString(chunk.Text)
			s.meta = MergeMetadata(s.meta, chunk.Meta)
		case <-ctx.Done():
			return s.builder.String(), ctx.Err()
		}
	}
}
