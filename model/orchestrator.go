package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig holds the optional collaborators of an Orchestrator.
type OrchestratorConfig struct {
	Policy   Policy
	Recorder Recorder
	Logger   *zap.Logger
}

// Orchestrator drives a full request/response exchange against a Backend.
//
// One session must have at most one Completion in flight. The caller is
// responsible for serializing exchanges per session; a concurrent call on a
// busy session fails fast with ErrSessionBusy instead of interleaving requests.
// The busy set belongs to one Orchestrator: two orchestrators given the same
// session id do not see each other, so share a single instance per session.
type Orchestrator struct {
	backend  Backend
	policy   Policy
	recorder Recorder
	log      *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator constructs an Orchestrator over the given backend.
func NewOrchestrator(backend Backend, cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		backend:  backend,
		policy:   cfg.Policy,
		recorder: cfg.Recorder,
		log:      log,
		inflight: make(map[string]struct{}),
	}
}

// Request is the input of one Completion call.
type Request struct {
	// Session reuses an existing remote conversation. Zero creates a new one.
	Session Session

	// ModelHint selects the provider/model for a new session and for payloads.
	ModelHint string

	Messages []Message

	// OnFragment, if set, is called for every decoded fragment in arrival order.
	OnFragment func(messageIndex int, f Fragment)
}

// Completion runs the exchange: session, then for each user message its
// attachments, dispatch and stream decoding, strictly in input order.
// Any stage failure aborts the call and returns an *ExchangeError; decode
// warnings are attached to the returned Completion instead.
func (o *Orchestrator) Completion(ctx context.Context, req Request) (*Completion, error) {
	record := ExchangeRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Messages:  req.Messages,
	}
	log := o.log.With(zap.String("exchange_id", record.ID))

	session := req.Session
	if session.IsZero() {
		created, err := o.backend.StartSession(ctx, req.ModelHint)
		if err != nil {
			err = &ExchangeError{MessageIndex: -1, Stage: StageSession, Err: err}
			log.Error("session creation failed", zap.Error(err))
			record.Err = err
			o.save(ctx, log, record)
			return nil, err
		}
		session = created
		if o.recorder != nil {
			if err := o.recorder.SaveSession(context.WithoutCancel(ctx), session); err != nil {
				log.Warn("failed to record session", zap.Error(err))
			}
		}
	}

	if !o.acquire(session.ID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, session.ID)
	}
	defer o.release(session.ID)

	log = log.With(zap.String("session_id", session.ID))
	record.SessionID = session.ID
	record.Provider = providerFor(session, req.ModelHint)

	completion := &Completion{ExchangeID: record.ID, SessionID: session.ID}

	for i, msg := range req.Messages {
		if msg.Role != RoleUser {
			log.Debug("skipping non-user message", zap.Int("index", i), zap.String("role", string(msg.Role)))
			continue
		}

		attachments, err := o.uploadAll(ctx, session, i, msg.Files)
		for _, a := range attachments {
			record.Attachments = append(record.Attachments, RecordedAttachment{MessageIndex: i, Attachment: a})
		}
		if err != nil {
			log.Error("attachment pipeline failed", zap.Int("index", i), zap.Error(err))
			record.Err = err
			o.save(ctx, log, record)
			return nil, err
		}

		reply, warnings, err := o.send(ctx, session, i, record.Provider, msg, attachments, req.OnFragment)
		if err != nil {
			log.Error("message failed", zap.Int("index", i), zap.Error(err))
			record.Err = err
			o.save(ctx, log, record)
			return nil, err
		}

		completion.Append(reply)
		completion.Warnings = append(completion.Warnings, warnings...)
		log.Debug("message complete",
			zap.Int("index", i),
			zap.Int("fragments", reply.Fragments),
			zap.Int("warnings", len(warnings)))
	}

	record.Completion = completion
	o.save(ctx, log, record)
	return completion, nil
}

func (o *Orchestrator) send(ctx context.Context, session Session, index int, provider string, msg Message, attachments []Attachment, onFragment func(int, Fragment)) (Reply, []DecodeWarning, error) {
	for _, a := range attachments {
		if !a.Registered() {
			return Reply{}, nil, &ExchangeError{
				MessageIndex: index,
				Attachment:   a.Name,
				Stage:        StageRegister,
				Err:          &StageError{Stage: StageRegister, Err: fmt.Errorf("attachment is %s, not registered", a.Status)},
			}
		}
	}

	body, err := o.backend.Dispatch(ctx, session, MessageRequest{
		Content:           msg.Content,
		Provider:          provider,
		Attachments:       attachments,
		AdvancedReasoning: msg.AdvancedReasoning,
	})
	if err != nil {
		return Reply{}, nil, &ExchangeError{MessageIndex: index, Stage: StageSend, Err: err}
	}
	defer body.Close()

	var callback FragmentCallback
	if onFragment != nil {
		callback = func(f Fragment) { onFragment(index, f) }
	}

	result, err := o.backend.NewDecoder().Consume(ctx, body, callback)
	if err != nil {
		return Reply{}, nil, &ExchangeError{MessageIndex: index, Stage: StageStream, Err: &StageError{Stage: StageStream, Err: err}}
	}
	if result.Truncated && o.policy.StrictTruncation {
		return Reply{}, nil, &ExchangeError{MessageIndex: index, Stage: StageStream, Err: &StageError{Stage: StageStream, Err: ErrTruncatedStream}}
	}

	warnings := make([]DecodeWarning, len(result.Warnings))
	for j, w := range result.Warnings {
		w.MessageIndex = index
		warnings[j] = w
	}

	return Reply{
		MessageIndex: index,
		Content:      result.Content,
		Attachments:  attachments,
		Fragments:    result.Fragments,
	}, warnings, nil
}

// uploadAll resolves every file of one message. The returned slice keeps input
// order and includes the failed attachment, if any, for recording.
func (o *Orchestrator) uploadAll(ctx context.Context, session Session, index int, files []FileSource) ([]Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}

	limit := o.policy.parallelUploads()
	if limit == 1 || len(files) == 1 {
		attachments := make([]Attachment, 0, len(files))
		for _, f := range files {
			a, err := o.backend.UploadAndRegister(ctx, session, f)
			attachments = append(attachments, a)
			if err != nil {
				return attachments, uploadError(index, f, a, err)
			}
		}
		return attachments, nil
	}

	results := make([]Attachment, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for j, f := range files {
		j, f := j, f
		results[j] = Attachment{Source: f.Path, Name: f.Name, Status: AttachmentPending}
		g.Go(func() error {
			a, err := o.backend.UploadAndRegister(gctx, session, f)
			results[j] = a
			errs[j] = err
			return err
		})
	}
	if err := g.Wait(); err == nil {
		return results, nil
	}

	// Report the lowest-index failure that was not caused by a sibling cancelling the group.
	failed := -1
	for j, err := range errs {
		if err == nil {
			continue
		}
		if failed < 0 {
			failed = j
		}
		if ctx.Err() == nil && errors.Is(err, context.Canceled) {
			continue
		}
		failed = j
		break
	}
	return results, uploadError(index, files[failed], results[failed], errs[failed])
}

func uploadError(index int, f FileSource, a Attachment, err error) error {
	name := a.Name
	if name == "" {
		name = f.Name
	}
	stage, ok := StageOf(err)
	if !ok {
		stage = StageTarget
	}
	return &ExchangeError{MessageIndex: index, Attachment: name, Stage: stage, Err: err}
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[sessionID]; busy {
		return false
	}
	o.inflight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.inflight, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) save(ctx context.Context, log *zap.Logger, record ExchangeRecord) {
	if o.recorder == nil {
		return
	}
	record.FinishedAt = time.Now()
	if err := o.recorder.SaveExchange(context.WithoutCancel(ctx), record); err != nil {
		log.Warn("failed to record exchange", zap.Error(err))
	}
}

func providerFor(session Session, hint string) string {
	switch {
	case session.Provider != "":
		return session.Provider
	case hint != "":
		return hint
	default:
		return DefaultProvider
	}
}
