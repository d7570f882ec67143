package transforms

import (
	"context"
	"strings"

	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/storystate"
	"github.com/storyloom/storyloom/pkg/textgen"
)

// RewriteTransform asks the model to clean up narration text. The first text
// a chunk ever carried is preserved in the original-text annotation so later
// stages can still see what the provider actually produced. On provider
// failure the chunk passes through unrewritten.
type RewriteTransform struct {
	service textgen.Service
}

func NewRewriteTransform(service textgen.Service) *RewriteTransform {
	return &RewriteTransform{service: service}
}

const rewriteName = "rewrite_narration"

func (t *RewriteTransform) InputKind() pipeline.ChunkKind  { return pipeline.KindText }
func (t *RewriteTransform) OutputKind() pipeline.ChunkKind { return pipeline.KindText }

func (t *RewriteTransform) Run(ctx context.Context, in <-chan pipeline.Chunk, emit pipeline.EmitFunc) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			if chunk.Kind != pipeline.KindText {
				return &pipeline.StageError{
					Kind:        pipeline.FailureTransform,
					SafeMessage: "expected text chunk, got " + string(chunk.Kind),
				}
			}

			original, ok := chunk.Meta.Annotation(storystate.OriginalTextKey)
			if !ok {
				original = chunk.Text
			}
			meta := chunk.Meta.WithAnnotation(storystate.OriginalTextKey, original)

			generated, err := tryGenerate(ctx, t.service, textgen.Request{Prompt: buildRewritePrompt(chunk.Text)}, rewriteName, chunk.Meta)
			if err != nil {
				return err
			}

			text := chunk.Text
			if strings.TrimSpace(generated) != "" {
				text = generated
			}
			if err := emit(pipeline.TextChunk(text, meta)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
