package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/veoclip/pkg/adapter"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/usecase/generation"
)

// mockVeo returns states in order: the first from Submit, the rest from Poll
type mockVeo struct {
	states    []*model.Job
	submitErr error
	pollErr   error

	inputs  []*adapter.VideoInput
	polls   int
	handles []string
}

func (m *mockVeo) Submit(ctx context.Context, input *adapter.VideoInput) (*model.Job, error) {
	m.inputs = append(m.inputs, input)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.next(), nil
}

func (m *mockVeo) Poll(ctx context.Context, handle string) (*model.Job, error) {
	m.handles = append(m.handles, handle)
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	return m.next(), nil
}

func (m *mockVeo) next() *model.Job {
	idx := m.polls
	m.polls++
	if idx >= len(m.states) {
		return m.states[len(m.states)-1]
	}
	return m.states[idx]
}

type mockDownloader struct {
	asset *model.Asset
	err   error
	uris  []string
}

func (m *mockDownloader) Download(ctx context.Context, uri string) (*model.Asset, error) {
	m.uris = append(m.uris, uri)
	if m.err != nil {
		return nil, m.err
	}
	return m.asset, nil
}

type waitCounter struct {
	count int
	last  time.Duration
}

func (w *waitCounter) wait(ctx context.Context, d time.Duration) error {
	w.count++
	w.last = d
	return ctx.Err()
}

func newRequest(prompt string) *model.GenerationRequest {
	return &model.GenerationRequest{Prompt: prompt, AspectRatio: model.AspectRatioSquare}
}

func TestComposePrompt(t *testing.T) {
	s := generation.ComposePrompt("a cat on a skateboard", model.AspectRatioSquare)
	gt.S(t, s).Contains("a cat on a skateboard")
	gt.S(t, s).Contains("10 second")
	gt.S(t, s).Contains("1:1")
}

func TestSubmitAndAwaitPollsUntilDone(t *testing.T) {
	veo := &mockVeo{states: []*model.Job{
		{Handle: "op-1"},
		{Handle: "op-1"},
		{Handle: "op-1", Done: true, Result: &model.Asset{URI: "https://example.com/video"}},
	}}
	dl := &mockDownloader{asset: &model.Asset{Data: []byte("B"), MIMEType: "video/mp4"}}
	w := &waitCounter{}
	client := generation.New(veo, dl, generation.WithWaitFunc(w.wait))

	var progress []model.Progress
	result, err := client.SubmitAndAwait(context.Background(), newRequest("a cat on a skateboard"), func(p model.Progress) {
		progress = append(progress, p)
	})
	gt.NoError(t, err)
	gt.Equal(t, string(result.Data), "B")

	// 1 submit + 2 polls, each poll preceded by one wait
	gt.Equal(t, veo.polls, 3)
	gt.Equal(t, w.count, 2)
	gt.Equal(t, w.last, generation.DefaultPollInterval)
	gt.A(t, veo.handles).Length(2)
	gt.Equal(t, veo.handles[0], "op-1")
	gt.A(t, dl.uris).Length(1)
	gt.Equal(t, dl.uris[0], "https://example.com/video")

	gt.A(t, veo.inputs).Length(1)
	gt.S(t, veo.inputs[0].Prompt).Contains("a cat on a skateboard")
	gt.S(t, veo.inputs[0].Prompt).Contains("10 second")
	gt.S(t, veo.inputs[0].Prompt).Contains("1:1")

	stages := make([]model.Stage, len(progress))
	for i, p := range progress {
		stages[i] = p.Stage
	}
	gt.Equal(t, stages, []model.Stage{
		model.StagePreparing,
		model.StageSent,
		model.StagePolling,
		model.StagePolling,
		model.StageDownloading,
		model.StageDone,
	})
	gt.True(t, progress[2].Message != progress[3].Message)
	gt.Equal(t, progress[1].Handle, "op-1")
}

func TestSubmitAndAwaitRotatesMessages(t *testing.T) {
	states := make([]*model.Job, 0, 10)
	for i := 0; i < 9; i++ {
		states = append(states, &model.Job{Handle: "op"})
	}
	states = append(states, &model.Job{Handle: "op", Done: true, Result: &model.Asset{Data: []byte("v")}})

	client := generation.New(&mockVeo{states: states}, &mockDownloader{}, generation.WithWaitFunc((&waitCounter{}).wait))

	var messages []string
	_, err := client.SubmitAndAwait(context.Background(), newRequest("p"), func(p model.Progress) {
		if p.Stage == model.StagePolling {
			messages = append(messages, p.Message)
		}
	})
	gt.NoError(t, err)
	gt.A(t, messages).Length(9)
	gt.Equal(t, messages[7], messages[0])
	gt.Equal(t, messages[8], messages[1])
}

func TestSubmitAndAwaitRemoteError(t *testing.T) {
	veo := &mockVeo{states: []*model.Job{
		{Handle: "op"},
		{Handle: "op", Done: true, Error: "quota exceeded"},
		{Handle: "op", Done: true, Result: &model.Asset{URI: "https://example.com/never"}},
	}}
	dl := &mockDownloader{}
	w := &waitCounter{}
	client := generation.New(veo, dl, generation.WithWaitFunc(w.wait))

	_, err := client.SubmitAndAwait(context.Background(), newRequest("p"), nil)
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("quota exceeded")
	gt.Equal(t, veo.polls, 2)
	gt.Equal(t, w.count, 1)
	gt.A(t, dl.uris).Length(0)
}

func TestSubmitAndAwaitNoResult(t *testing.T) {
	veo := &mockVeo{states: []*model.Job{{Handle: "op", Done: true}}}
	client := generation.New(veo, &mockDownloader{})

	_, err := client.SubmitAndAwait(context.Background(), newRequest("p"), nil)
	gt.True(t, errors.Is(err, generation.ErrNoResult))
}

func TestSubmitAndAwaitInlineResult(t *testing.T) {
	veo := &mockVeo{states: []*model.Job{
		{Handle: "op", Done: true, Result: &model.Asset{Data: []byte("inline")}},
	}}
	dl := &mockDownloader{}
	client := generation.New(veo, dl)

	result, err := client.SubmitAndAwait(context.Background(), newRequest("p"), nil)
	gt.NoError(t, err)
	gt.Equal(t, string(result.Data), "inline")
	gt.Equal(t, result.MIMEType, "video/mp4")
	gt.A(t, dl.uris).Length(0)
}

func TestSubmitAndAwaitFailures(t *testing.T) {
	done := []*model.Job{{Handle: "op", Done: true, Result: &model.Asset{URI: "https://example.com/v"}}}

	testCases := []struct {
		name   string
		veo    *mockVeo
		dl     *mockDownloader
		expect string
	}{
		{
			name:   "submission",
			veo:    &mockVeo{states: done, submitErr: errors.New("permission denied")},
			dl:     &mockDownloader{},
			expect: "permission denied",
		},
		{
			name:   "polling",
			veo:    &mockVeo{states: []*model.Job{{Handle: "op"}}, pollErr: errors.New("connection reset")},
			dl:     &mockDownloader{},
			expect: "connection reset",
		},
		{
			name:   "download",
			veo:    &mockVeo{states: done},
			dl:     &mockDownloader{err: errors.New("failed to download video: 403 Forbidden")},
			expect: "403 Forbidden",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := generation.New(tc.veo, tc.dl, generation.WithWaitFunc((&waitCounter{}).wait))
			_, err := client.SubmitAndAwait(context.Background(), newRequest("p"), nil)
			gt.Error(t, err)
			gt.True(t, strings.Contains(err.Error(), tc.expect))
		})
	}
}

func TestSubmitAndAwaitCancelled(t *testing.T) {
	veo := &mockVeo{states: []*model.Job{{Handle: "op"}}}
	client := generation.New(veo, &mockDownloader{}, generation.WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.SubmitAndAwait(ctx, newRequest("p"), func(p model.Progress) {
		if p.Stage == model.StagePolling {
			cancel()
		}
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, veo.polls, 1)
}
