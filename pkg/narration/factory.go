package narration

import (
	"fmt"

	"github.com/storyloom/storyloom/pkg/textgen"
)

// BuildRequest describes one turn's chain: which session it serves, the
// attachments to inject, and the observer receiving telemetry.
type BuildRequest struct {
	SessionID     string
	AttachmentIDs []string
	Observer      Observer
}

// Factory assembles the middleware chain for a turn. Order is fixed:
// persistence wraps everything, then system prompt, content guardian,
// attachment injection, session title, and finally provider dispatch.
type Factory struct {
	Sessions        SessionStore
	Directory       SessionDirectory
	Profiles        ProfileResolver
	Provider        Provider
	Attachments     AttachmentSource
	TitleService    textgen.Service
	Dispatch        DispatchOptions
	Title           TitleOptions
	DisableGuardian bool
}

func (f *Factory) Create(req BuildRequest) (*Service, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("narration: session id is required")
	}
	observer := req.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	middleware := []Middleware{
		NewPersistenceMiddleware(f.Sessions, observer).Invoke,
		NewSystemPromptMiddleware(f.Profiles, observer).Invoke,
	}
	if !f.DisableGuardian {
		middleware = append(middleware, NewGuardianMiddleware(observer).Invoke)
	}
	middleware = append(middleware, NewAttachmentInjectionMiddleware(f.Attachments, req.AttachmentIDs, observer).Invoke)

	if f.Directory != nil && f.TitleService != nil {
		middleware = append(middleware, NewTitleMiddleware(f.Directory, f.TitleService, f.Title, observer).Invoke)
	}

	middleware = append(middleware, NewDispatchMiddleware(f.Provider, f.Dispatch, observer).Invoke)

	return NewService(middleware...), nil
}
