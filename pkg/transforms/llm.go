// Package transforms contains the LLM-backed pipeline transforms: narration
// rewrite plus the summary, character and inventory trackers that maintain
// story state in chunk metadata. Provider failures here degrade rather than
// fail the run; the chunk passes through with its state untouched.
package transforms

import (
	"context"
	"errors"
	"time"

	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/storystate"
	"github.com/storyloom/storyloom/pkg/textgen"
)

// Clock supplies merge timestamps; tests pin it.
type Clock func() time.Time

// tryGenerate calls the generation service and absorbs every failure except
// cancellation, which must keep propagating so the run cancels cleanly. On
// failure it logs the transform name with whatever correlation annotations
// the chunk carries and returns empty.
func tryGenerate(ctx context.Context, service textgen.Service, req textgen.Request, transformName string, meta pipeline.Metadata) (string, error) {
	resp, err := service.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		fields := storystate.CorrelationFields(meta)
		fields["error"] = err.Error()
		logger.WarnCF(transformName, "provider call failed", fields)
		return "", nil
	}
	return resp.Text, nil
}

// trackerTransform is the shared shape of the state-tracking transforms.
// Each keeps a running state across chunks of the same run so later chunks
// build on earlier extractions even before the sink persists anything.
type trackerTransform struct {
	name    string
	service textgen.Service
	prompt  func(state storystate.State, narration string) string
	apply   func(current storystate.State, generated string, meta pipeline.Metadata) storystate.State
}

func (t *trackerTransform) InputKind() pipeline.ChunkKind  { return pipeline.KindText }
func (t *trackerTransform) OutputKind() pipeline.ChunkKind { return pipeline.KindText }

func (t *trackerTransform) Run(ctx context.Context, in <-chan pipeline.Chunk, emit pipeline.EmitFunc) error {
	var running *storystate.State

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

			incoming := storystate.ReadOrCreate(chunk.Meta, t.name)
			current := incoming
			if running != nil && running.Version >= incoming.Version {
				current = *running
			}

			generated, err := tryGenerate(ctx, t.service, textgen.Request{Prompt: t.prompt(current, chunk.Text)}, t.name, chunk.Meta)
			if err != nil {
				return err
			}

			next := current
			if generated != "" {
				next = t.apply(current, generated, chunk.Meta)
			}

			running = &next
			if err := emit(pipeline.TextChunk(chunk.Text, storystate.WriteTo(chunk.Meta, next))); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyParsedUpdate folds a model-generated JSON update into the state. An
// unparseable response leaves the state byte-for-byte untouched and logs the
// transform plus correlation annotations.
func applyParsedUpdate(current storystate.State, generated, transformName string, meta pipeline.Metadata, clock Clock) storystate.State {
	update, ok := storystate.ParseUpdate(generated)
	if !ok {
		logger.WarnCF(transformName, "could not parse JSON update", storystate.CorrelationFields(meta))
		return current
	}
	return storystate.ApplyUpdate(current, update, transformName, clock())
}
