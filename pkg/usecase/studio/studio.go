package studio

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/asset"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/repository"
	"github.com/m-mizutani/veoclip/pkg/usecase/generation"
	"github.com/m-mizutani/veoclip/pkg/usecase/history"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

const (
	msgInitializing  = "Initializing..."
	failedPrefix     = "Generation failed: "
	subscriberBuffer = 32
)

var (
	ErrInvalidTransition = goerr.New("invalid state transition")
	ErrClosed            = goerr.New("studio is closed")
)

// JobClient drives a generation request to completion
type JobClient interface {
	SubmitAndAwait(ctx context.Context, req *model.GenerationRequest, onProgress generation.ProgressFunc) (*model.Asset, error)
}

// Admission decides whether a valid request may be submitted
type Admission interface {
	Check(ctx context.Context, req *model.GenerationRequest) error
}

// Thumbnailer derives a thumbnail data URL from a video
type Thumbnailer interface {
	Derive(ctx context.Context, video []byte) (string, error)
}

// Studio is the state machine between user input, the job client and the
// history store. Transitions are published to subscribers.
type Studio struct {
	jobs      JobClient
	thumbs    Thumbnailer
	store     *history.Store
	repo      repository.Repository
	admission Admission
	refs      *asset.LiveRefs
	modelName string
	now       func() time.Time

	mu      sync.Mutex
	state   State
	token   string
	cancel  context.CancelFunc
	liveRef string
	subs    map[int]chan State
	nextSub int
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Studio)

// WithRepository records every generation attempt in repo
func WithRepository(repo repository.Repository) Option {
	return func(s *Studio) {
		s.repo = repo
	}
}

// WithAdmission rejects requests the admission denies, keeping the studio
// Idle like a validation error
func WithAdmission(admission Admission) Option {
	return func(s *Studio) {
		s.admission = admission
	}
}

// WithLiveRefs shares a live reference registry
func WithLiveRefs(refs *asset.LiveRefs) Option {
	return func(s *Studio) {
		s.refs = refs
	}
}

// WithModelName sets the model name written to job records
func WithModelName(name string) Option {
	return func(s *Studio) {
		s.modelName = name
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Studio) {
		s.now = now
	}
}

func New(jobs JobClient, thumbs Thumbnailer, store *history.Store, opts ...Option) *Studio {
	s := &Studio{
		jobs:   jobs,
		thumbs: thumbs,
		store:  store,
		repo:   repository.NewMemory(),
		refs:   asset.NewLiveRefs(),
		now:    time.Now,
		state:  State{Kind: StateIdle},
		subs:   make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state
func (s *Studio) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel receiving every state published after the
// call, and a function to unsubscribe. A subscriber that falls behind by
// more than the channel buffer loses its oldest pending states; the latest
// state is always delivered.
func (s *Studio) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// setState must be called with s.mu held. It is the only sender on
// subscriber channels, so after dropping one pending state the send below
// cannot block.
func (s *Studio) setState(st State) {
	s.state = st
	for _, ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// Submit validates req and starts the generation in the background. A
// validation error keeps the studio Idle and is returned.
func (s *Studio) Submit(ctx context.Context, req *model.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state.Kind != StateIdle {
		return goerr.Wrap(ErrInvalidTransition, "submit is only allowed when idle", goerr.V("state", s.state.Kind))
	}

	if err := req.Validate(); err != nil {
		s.setState(State{Kind: StateIdle, Message: err.Error()})
		return err
	}
	if s.admission != nil {
		if err := s.admission.Check(ctx, req); err != nil {
			s.setState(State{Kind: StateIdle, Message: err.Error()})
			return err
		}
	}

	// the job outlives the call; Reset and Close stop it
	token := uuid.New().String()
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.token = token
	s.cancel = cancel
	s.setState(State{Kind: StateSubmitting, Message: msgInitializing})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(jobCtx, token, req)
	}()

	return nil
}

// Generate submits req and blocks until the studio reaches Ready or Failed.
// onState, if not nil, receives every intermediate Submitting state.
// Cancelling ctx resets the studio. Selecting a history entry meanwhile ends
// the wait with an error.
func (s *Studio) Generate(ctx context.Context, req *model.GenerationRequest, onState func(State)) (State, error) {
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Submit(ctx, req); err != nil {
		return s.State(), err
	}

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return s.State(), ErrClosed
			}
			switch st.Kind {
			case StateReady:
				if st.Entry != nil {
					return st, goerr.New("generation was superseded by a history selection")
				}
				return st, nil
			case StateFailed:
				return st, nil
			case StateIdle:
				return st, goerr.New("generation was reset")
			}
			if onState != nil {
				onState(st)
			}
		case <-ctx.Done():
			s.Reset()
			return s.State(), ctx.Err()
		}
	}
}

func (s *Studio) run(ctx context.Context, token string, req *model.GenerationRequest) {
	started := s.now()
	recordID := model.NewJobRecordID()
	ctx = logging.WithJob(ctx, string(recordID))
	logger := logging.From(ctx)

	record := &model.JobRecord{
		ID:          recordID,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Model:       s.modelName,
		Status:      model.JobStatusSubmitted,
		CreatedAt:   started,
		UpdatedAt:   started,
	}
	s.record(ctx, record)

	video, err := s.jobs.SubmitAndAwait(ctx, req, func(p model.Progress) {
		if p.Stage == model.StageSent {
			record.Handle = p.Handle
			record.Status = model.JobStatusRunning
			record.UpdatedAt = s.now()
			s.record(ctx, record)
		}
		s.progress(token, p.Message)
	})

	var entry *model.HistoryEntry
	if err == nil {
		entry, err = s.newEntry(ctx, req.Prompt, video)
	}

	record.UpdatedAt = s.now()
	if err != nil {
		logger.Warn("video generation failed", "error", err)
		record.Status = model.JobStatusFailed
		record.Error = err.Error()
		s.fail(ctx, token, err)
		s.record(ctx, record)
		return
	}

	if s.succeed(ctx, token, entry, video) {
		record.Status = model.JobStatusSucceeded
		record.HistoryID = entry.ID
		s.record(ctx, record)
	}
}

// newEntry derives the thumbnail and the storable encoding concurrently and
// joins both
func (s *Studio) newEntry(ctx context.Context, prompt string, video *model.Asset) (*model.HistoryEntry, error) {
	var thumbnail, videoDataURL string

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		thumbnail, err = s.thumbs.Derive(egCtx, video.Data)
		return err
	})
	eg.Go(func() error {
		var err error
		videoDataURL, err = asset.EncodeDataURL(bytes.NewReader(video.Data), video.MIMEType)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	createdAt := s.now()
	return &model.HistoryEntry{
		ID:               model.NewHistoryID(createdAt),
		Prompt:           prompt,
		VideoDataURL:     videoDataURL,
		ThumbnailDataURL: thumbnail,
		Timestamp:        createdAt.UnixMilli(),
	}, nil
}

func (s *Studio) progress(token, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token || s.state.Kind != StateSubmitting {
		return
	}
	s.setState(State{Kind: StateSubmitting, Message: message})
}

// fail shows the error unless the job was stopped or a history entry is
// being viewed
func (s *Studio) fail(ctx context.Context, token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token {
		return
	}
	s.token = ""
	s.cancel = nil

	if s.state.Kind != StateSubmitting {
		logging.From(ctx).Debug("not showing generation failure", "state", s.state.Kind)
		return
	}
	s.setState(State{Kind: StateFailed, Message: failedPrefix + err.Error()})
}

// succeed adds the result to the history unless the studio was reset or
// closed while the job was running, and shows it unless a history entry is
// being viewed. It reports whether the entry was added.
func (s *Studio) succeed(ctx context.Context, token string, entry *model.HistoryEntry, video *model.Asset) bool {
	logger := logging.From(ctx)

	s.mu.Lock()
	current := s.token == token
	s.mu.Unlock()
	if !current {
		logger.Debug("discarding stale generation result", "history_id", entry.ID)
		return false
	}

	// store writes run without s.mu held
	s.store.Add(ctx, entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token {
		logger.Debug("generation was stopped while saving its result", "history_id", entry.ID)
		return true
	}
	s.token = ""
	s.cancel = nil

	if s.state.Kind != StateSubmitting {
		logger.Debug("not showing generation result", "history_id", entry.ID, "state", s.state.Kind)
		return true
	}

	s.releaseLiveRef()
	s.liveRef = s.refs.Mint(video)
	s.setState(State{Kind: StateReady, Ref: s.liveRef})
	return true
}

// record writes to the ledger even after the job was stopped
func (s *Studio) record(ctx context.Context, record *model.JobRecord) {
	if err := s.repo.PutJob(context.WithoutCancel(ctx), record); err != nil {
		logging.From(ctx).Warn("failed to record job", "job_id", record.ID, "error", err)
	}
}

// releaseLiveRef must be called with s.mu held
func (s *Studio) releaseLiveRef() {
	if s.liveRef != "" {
		s.refs.Revoke(s.liveRef)
		s.liveRef = ""
	}
}

// abort invalidates the running job, if any. Must be called with s.mu held.
func (s *Studio) abort() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.token = ""
}

// Reset returns to Idle, releasing the live reference. Resetting while a
// job is running stops its polling and discards its result.
func (s *Studio) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abort()
	s.releaseLiveRef()
	s.setState(State{Kind: StateIdle})
}

// Acknowledge dismisses a failure
func (s *Studio) Acknowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Kind != StateFailed {
		return goerr.Wrap(ErrInvalidTransition, "nothing to acknowledge", goerr.V("state", s.state.Kind))
	}
	s.setState(State{Kind: StateIdle})
	return nil
}

// SelectHistoryEntry shows a past result using its stored data URL
func (s *Studio) SelectHistoryEntry(id model.HistoryID) (*model.HistoryEntry, error) {
	entry, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLiveRef()
	s.setState(State{Kind: StateReady, Ref: entry.VideoDataURL, Entry: entry})
	return entry, nil
}

// DeleteHistoryEntry removes an entry without changing the current state
func (s *Studio) DeleteHistoryEntry(ctx context.Context, id model.HistoryID) []*model.HistoryEntry {
	return s.store.Remove(ctx, id)
}

// History returns the history collection, newest first
func (s *Studio) History() []*model.HistoryEntry {
	return s.store.List()
}

// Video resolves a displayable reference of a Ready state to its bytes
func (s *Studio) Video(ref string) (*model.Asset, error) {
	if strings.HasPrefix(ref, "data:") {
		data, mimeType, err := asset.ParseDataURL(ref)
		if err != nil {
			return nil, err
		}
		return &model.Asset{Data: data, MIMEType: mimeType}, nil
	}
	return s.refs.Resolve(ref)
}

// Close tears the studio down: the running job is stopped and its result
// discarded, the live reference is released and subscriptions are closed.
func (s *Studio) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.abort()
	s.releaseLiveRef()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
