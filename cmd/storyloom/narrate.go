package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/pkg/attachments"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/logger"
	"github.com/storyloom/storyloom/pkg/narration"
	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/provider"
	"github.com/storyloom/storyloom/pkg/session"
	"github.com/storyloom/storyloom/pkg/storystate"
	"github.com/storyloom/storyloom/pkg/textgen"
	"github.com/storyloom/storyloom/pkg/transforms"
)

var (
	narrateAttachments []string
	narrateTrack       bool
)

var narrateCmd = &cobra.Command{
	Use:   "narrate [session-id] [prompt]",
	Short: "Stream one narration turn for a session",
	Long: `Narrate runs one turn: it loads the session, streams the provider's
narration to stdout, and persists the turn once the stream has drained.

With --track the narrated text is also run through the story tracking
pipeline, updating the session's story state (summary, characters,
inventory) on disk.`,
	Args: cobra.ExactArgs(2),
	RunE: runNarrate,
}

func init() {
	rootCmd.AddCommand(narrateCmd)
	narrateCmd.Flags().StringSliceVar(&narrateAttachments, "attach", nil, "Attachment ids to inject into this turn's context")
	narrateCmd.Flags().BoolVar(&narrateTrack, "track", false, "Update story state from the narrated text")
}

func runNarrate(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	prompt := args[1]
	ctx := cmd.Context()

	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	sessions, err := session.NewFileStore(cfg.SessionsDir())
	if err != nil {
		return err
	}
	attachmentStore := attachments.NewStore(cfg.AttachmentsDir())

	prov, err := buildNarrationProvider(cfg)
	if err != nil {
		return err
	}

	promptText, err := cfg.SystemPromptText()
	if err != nil {
		return fmt.Errorf("resolve system prompt: %w", err)
	}

	factory := narration.Factory{
		Sessions:  sessions,
		Directory: sessions,
		Profiles: narration.StaticProfileResolver{Profile: narration.Profile{
			ProfileID:  cfg.SystemPrompt.ProfileID,
			PromptText: promptText,
			Version:    cfg.SystemPrompt.Version,
		}},
		Provider:        prov,
		Attachments:     attachments.NewSource(attachmentStore),
		Dispatch:        narration.DispatchOptions{Timeout: time.Duration(cfg.Narration.TimeoutSeconds) * time.Second},
		Title:           narration.TitleOptions{MaxChars: cfg.Narration.TitleMaxChars},
		DisableGuardian: !cfg.Narration.GuardianEnabled,
	}

	if cfg.Narration.TitleEnabled {
		titleService, err := newSystemTextgen(cfg)
		if err != nil {
			logger.WarnCF("cli", "session titles disabled", map[string]any{"error": err.Error()})
		} else {
			factory.TitleService = titleService
		}
	}

	svc, err := factory.Create(narration.BuildRequest{
		SessionID:     sessionID,
		AttachmentIDs: narrateAttachments,
		Observer:      narration.LogObserver{},
	})
	if err != nil {
		return err
	}

	trace := narration.NewTrace()
	nc := narration.ContextFromRequest(narration.Request{
		SessionID:    sessionID,
		PlayerPrompt: prompt,
		Trace:        trace,
	})

	result, err := svc.Run(ctx, nc)
	if err != nil {
		return err
	}

	var narrated strings.Builder
	for token := range result.Stream {
		fmt.Print(token)
		narrated.WriteString(token)
	}
	fmt.Println()

	if _, err := result.Final.Await(); err != nil {
		return err
	}

	if narrateTrack {
		return trackStoryState(cmd, cfg, sessionID, trace, narrated.String())
	}
	return nil
}

// trackStoryState runs the narrated text through the tracking pipeline and
// writes the resulting story state next to the session data.
func trackStoryState(cmd *cobra.Command, cfg *config.Config, sessionID string, trace narration.Trace, narrated string) error {
	if strings.TrimSpace(narrated) == "" {
		return nil
	}

	service, err := newSystemTextgen(cfg)
	if err != nil {
		return fmt.Errorf("story tracking unavailable: %w", err)
	}

	statePath := filepath.Join(cfg.SessionsDir(), "storystate", sessionID+".json")

	meta := pipeline.Metadata{}.
		WithAnnotation(storystate.SessionIDKey, sessionID).
		WithAnnotation(storystate.RunIDKey, trace.RequestID)
	if raw, err := os.ReadFile(statePath); err == nil {
		meta = meta.WithAnnotation(storystate.StateJSONKey, string(raw))
	}

	accumulator, err := pipeline.NewAccumulatorTransform(pipeline.AccumulatorConfig{
		MaxChunks:     cfg.Pipeline.AccumulatorMaxChunks,
		MaxCharacters: cfg.Pipeline.AccumulatorMaxCharacters,
		MaxUTF8Bytes:  cfg.Pipeline.AccumulatorMaxUTF8Bytes,
	})
	if err != nil {
		return err
	}

	stages := []pipeline.Transform{accumulator}
	if cfg.Pipeline.RewriteEnabled {
		stages = append(stages, transforms.NewRewriteTransform(service))
	}
	if cfg.Pipeline.SummaryEnabled {
		stages = append(stages, transforms.NewSummaryTransform(service, nil))
	}
	if cfg.Pipeline.CharactersEnabled {
		stages = append(stages, transforms.NewCharacterTransform(service, nil))
	}
	if cfg.Pipeline.InventoryEnabled {
		stages = append(stages, transforms.NewInventoryTransform(service, nil))
	}

	sink := pipeline.NewCollectSink()
	outcome, _ := pipeline.Run(cmd.Context(), pipeline.Definition[string]{
		Source:     pipeline.NewTextSource(narrated, meta),
		Transforms: stages,
		Sink:       sink,
	})
	if outcome.Status != pipeline.StatusCompleted {
		return fmt.Errorf("story tracking %s: %s", outcome.Status, outcome.SafeMessage)
	}

	stateJSON, ok := sink.Metadata().Annotation(storystate.StateJSONKey)
	if !ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		return fmt.Errorf("create story state dir: %w", err)
	}
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(stateJSON), 0644); err != nil {
		return fmt.Errorf("write story state: %w", err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace story state: %w", err)
	}

	if state, ok := storystate.TryDeserialize(stateJSON); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "story state v%d: %d characters, %d items\n",
			state.Version, len(state.Characters), len(state.Inventory.Items))
	}
	return nil
}

func buildNarrationProvider(cfg *config.Config) (narration.Provider, error) {
	switch cfg.Narration.Provider {
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:    cfg.Providers.Anthropic.APIKey,
			APIBase:   cfg.Providers.Anthropic.APIBase,
			Model:     cfg.Narration.Model,
			MaxTokens: cfg.Narration.MaxTokens,
		})
	case "", "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:    cfg.Providers.OpenAI.APIKey,
			APIBase:   cfg.Providers.OpenAI.APIBase,
			Model:     cfg.Narration.Model,
			MaxTokens: cfg.Narration.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown narration provider %q", cfg.Narration.Provider)
	}
}

// newSystemTextgen builds the non-streaming model used for titles, rewriting
// and story tracking. It always runs on the OpenAI-compatible endpoint.
func newSystemTextgen(cfg *config.Config) (textgen.Service, error) {
	return textgen.NewOpenAIService(textgen.OpenAIConfig{
		APIKey:      cfg.Providers.OpenAI.APIKey,
		APIBase:     cfg.Providers.OpenAI.APIBase,
		Model:       cfg.Narration.SystemModel,
		Temperature: cfg.Narration.Temperature,
		MaxTokens:   cfg.Narration.MaxTokens,
	})
}
