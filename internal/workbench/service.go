// Package workbench is the use case behind both the HTTP surface and the
// CLI: it ties a session's tool selection to intake, dispatch, presentation
// and cleanup of one upload.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/vidsuite/internal/capability"
	"github.com/maauso/vidsuite/internal/intake"
	"github.com/maauso/vidsuite/internal/present"
	"github.com/maauso/vidsuite/internal/routine"
	"github.com/maauso/vidsuite/internal/session"
	"github.com/maauso/vidsuite/internal/session/id"
	"github.com/maauso/vidsuite/internal/storage"
	"github.com/maauso/vidsuite/internal/tool"
)

// Static errors for the workbench.
var (
	// ErrToolUnavailable is returned when selecting a tool that is not enabled.
	ErrToolUnavailable = errors.New("tool is not available")
	// ErrNoOp is returned when the selected tool did not run.
	ErrNoOp = errors.New("selected tool cannot run")
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 24 * time.Hour

// pruneInterval bounds how often idle sessions are looked for.
const pruneInterval = time.Minute

// ProcessInput is one upload to run through the session's selected tool.
type ProcessInput struct {
	SessionID string
	// Name is the original upload file name.
	Name   string
	Body   io.Reader
	Params routine.Params
	// Publish uploads a successful output to remote storage when configured.
	Publish bool
}

// Outcome is handed to the deliver callback while the output file exists.
type Outcome struct {
	Tool   tool.ID
	Result routine.Result
	View   present.View
	// PublishedURL is set when the output was published.
	PublishedURL string
}

// Service coordinates sessions and processing.
type Service struct {
	sessions   session.Repository
	intake     *intake.Intake
	dispatcher *routine.Dispatcher
	store      storage.Storage
	report     capability.Report
	tools      []tool.Tool
	logger     *slog.Logger
	ttl        time.Duration

	pruneMu   sync.Mutex
	lastPrune time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSessionTTL sets how long a session may stay idle before it is
// removed. Non-positive values keep DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService creates a Service. The enabled tool list is derived once from
// the capability report.
func NewService(
	sessions session.Repository,
	in *intake.Intake,
	dispatcher *routine.Dispatcher,
	store storage.Storage,
	report capability.Report,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		sessions:   sessions,
		intake:     in,
		dispatcher: dispatcher,
		store:      store,
		report:     report,
		tools:      tool.EnabledTools(report.Set),
		logger:     logger,
		ttl:        DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report returns the startup capability report.
func (s *Service) Report() capability.Report {
	return s.report
}

// Tools returns the enabled tools in order.
func (s *Service) Tools() []tool.Tool {
	return s.tools
}

// CanPublish reports whether outputs can be published remotely.
func (s *Service) CanPublish() bool {
	return s.store.CanPublish()
}

// OpenSession returns the session with sessionID, or a new session with the
// default selection when sessionID is empty, malformed or unknown. Opening a
// known session counts as activity; creating one first expires idle ones.
func (s *Service) OpenSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if id.Valid(sessionID) {
		found, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
			sess.Touch()
			return nil
		})
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	s.expireIdle(ctx)

	sess := session.New(tool.Default(s.tools))
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.logger.Debug("session created",
		slog.String("session_id", sess.ID),
		slog.String("tool", string(sess.Selection())),
	)
	return sess, nil
}

// CloseSession removes a session that will not be used again.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// expireIdle deletes sessions idle for longer than the TTL, at most once
// per pruneInterval.
func (s *Service) expireIdle(ctx context.Context) {
	now := time.Now()
	s.pruneMu.Lock()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < pruneInterval {
		s.pruneMu.Unlock()
		return
	}
	s.lastPrune = now
	s.pruneMu.Unlock()

	ids, err := s.sessions.IdleBefore(ctx, now.Add(-s.ttl))
	if err != nil {
		s.logger.Warn("listing idle sessions failed", slog.String("error", err.Error()))
		return
	}
	removed := 0
	for _, sid := range ids {
		if err := s.sessions.Delete(ctx, sid); err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.logger.Warn("expiring session failed",
					slog.String("session_id", sid),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Debug("idle sessions expired", slog.Int("count", removed))
	}
}

// SelectTool records an explicit selection. Only enabled tools can be chosen.
func (s *Service) SelectTool(ctx context.Context, sessionID string, t tool.ID) (*session.Session, error) {
	if !tool.Contains(s.tools, t) {
		return nil, fmt.Errorf("%w: %q", ErrToolUnavailable, t)
	}
	return s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		sess.Select(t)
		return nil
	})
}

// Bounds stores an upload just long enough to compute its slider limits.
func (s *Service) Bounds(ctx context.Context, name string, body io.Reader) (routine.Bounds, error) {
	m, err := s.intake.Ingest(ctx, body, name)
	if err != nil {
		return routine.Bounds{}, err
	}
	defer s.intake.Release(ctx, m)

	return s.dispatcher.Bounds(ctx, m.Path)
}

// Process runs the session's selected tool on the upload and calls deliver
// with the outcome. Every temporary file is removed after deliver returns,
// whatever the result.
func (s *Service) Process(ctx context.Context, in ProcessInput, deliver func(Outcome) error) error {
	sess, err := s.sessions.Update(ctx, in.SessionID, func(sess *session.Session) error {
		return sess.Begin()
	})
	if err != nil {
		return err
	}
	defer func() {
		// The request context may already be done; the flag must still clear.
		if _, err := s.sessions.Update(context.WithoutCancel(ctx), in.SessionID, func(sess *session.Session) error {
			sess.End()
			return nil
		}); err != nil {
			s.logger.Error("failed to end session processing",
				slog.String("session_id", in.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}()

	selected := sess.Selection()

	m, err := s.intake.Ingest(ctx, in.Body, in.Name)
	if err != nil {
		return err
	}
	defer s.intake.Release(context.WithoutCancel(ctx), m)

	res, ran := s.dispatcher.Dispatch(ctx, selected, m, in.Params, s.report.Set)
	if !ran {
		return fmt.Errorf("%w: %q", ErrNoOp, selected)
	}

	out := Outcome{
		Tool:   selected,
		Result: res,
		View:   present.Present(selected, m.Basename, res),
	}
	if out.View.OK && in.Publish {
		out.PublishedURL = s.publish(ctx, in.SessionID, out.View)
	}
	return deliver(out)
}

// publish uploads the output. Failures are logged and leave the URL empty.
func (s *Service) publish(ctx context.Context, sessionID string, v present.View) string {
	if !s.store.CanPublish() {
		return ""
	}
	f, err := s.store.Open(ctx, v.Path)
	if err != nil {
		s.logger.Warn("publish skipped", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = f.Close() }()

	url, err := s.store.Publish(ctx, present.PublishKey(sessionID, v), v.ContentType, f)
	if err != nil {
		s.logger.Warn("publish failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	s.logger.Info("output published", slog.String("url", url))
	return url
}
