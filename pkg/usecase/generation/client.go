package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/adapter"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
)

const (
	// DefaultPollInterval is the fixed cadence of operation polling
	DefaultPollInterval = 10 * time.Second

	videoDurationSeconds = 10
)

var ErrNoResult = goerr.New("video generation completed, but no download link was found")

const (
	msgPreparing   = "Preparing your request..."
	msgSent        = "Sending request to Veo..."
	msgDownloading = "Video generated! Downloading..."
	msgDone        = "Done!"
)

// pollingMessages rotate while the operation is running
var pollingMessages = []string{
	"AI is dreaming up your video...",
	"Composing the visual narrative...",
	"Rendering high-fidelity frames...",
	"This can take a few minutes, please stay tuned...",
	"Almost there, adding the final touches...",
	"Polishing the pixels...",
	"Orchestrating the sequence...",
}

// ProgressFunc receives progress reports of a running generation
type ProgressFunc func(p model.Progress)

// WaitFunc suspends for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

// Client drives one generation request to completion
type Client struct {
	veo          adapter.Veo
	downloader   adapter.Downloader
	pollInterval time.Duration
	wait         WaitFunc
}

type Option func(*Client)

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithWaitFunc replaces the timer used between polls
func WithWaitFunc(f WaitFunc) Option {
	return func(c *Client) {
		c.wait = f
	}
}

func New(veo adapter.Veo, downloader adapter.Downloader, opts ...Option) *Client {
	c := &Client{
		veo:          veo,
		downloader:   downloader,
		pollInterval: DefaultPollInterval,
		wait:         sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ComposePrompt appends the duration and aspect ratio qualifiers expected by
// the model
func ComposePrompt(prompt string, ratio model.AspectRatio) string {
	return fmt.Sprintf("%s (This video should be a high quality, realistic %d second video with an aspect ratio of %s)",
		prompt, videoDurationSeconds, ratio)
}

// SubmitAndAwait submits req, polls until the operation finishes and
// returns the downloaded video. Request validation is the caller's job.
func (c *Client) SubmitAndAwait(ctx context.Context, req *model.GenerationRequest, onProgress ProgressFunc) (*model.Asset, error) {
	if onProgress == nil {
		onProgress = func(model.Progress) {}
	}
	logger := logging.From(ctx)

	onProgress(model.Progress{Stage: model.StagePreparing, Message: msgPreparing})

	input := &adapter.VideoInput{
		Prompt: ComposePrompt(req.Prompt, req.AspectRatio),
		Image:  req.Image,
	}

	job, err := c.veo.Submit(ctx, input)
	if err != nil {
		return nil, err
	}
	logger.Info("video generation submitted", "operation", job.Handle)
	onProgress(model.Progress{Stage: model.StageSent, Message: msgSent, Handle: job.Handle})

	for count := 0; !job.Done && job.Error == ""; count++ {
		onProgress(model.Progress{
			Stage:   model.StagePolling,
			Message: pollingMessages[count%len(pollingMessages)],
			Handle:  job.Handle,
		})

		if err := c.wait(ctx, c.pollInterval); err != nil {
			return nil, goerr.Wrap(err, "polling interrupted", goerr.V("operation", job.Handle))
		}

		next, err := c.veo.Poll(ctx, job.Handle)
		if err != nil {
			return nil, err
		}
		if next.Handle == "" {
			next.Handle = job.Handle
		}
		job = next
		logger.Debug("video operation polled", "operation", job.Handle, "done", job.Done, "count", count+1)
	}

	if job.Error != "" {
		return nil, goerr.New("video generation failed: "+job.Error, goerr.V("operation", job.Handle))
	}
	if job.Result == nil {
		return nil, goerr.Wrap(ErrNoResult, "failed to get result", goerr.V("operation", job.Handle))
	}

	onProgress(model.Progress{Stage: model.StageDownloading, Message: msgDownloading, Handle: job.Handle})

	result := job.Result
	if len(result.Data) == 0 {
		result, err = c.downloader.Download(ctx, job.Result.URI)
		if err != nil {
			return nil, err
		}
	}
	if result.MIMEType == "" {
		result.MIMEType = "video/mp4"
	}

	onProgress(model.Progress{Stage: model.StageDone, Message: msgDone, Handle: job.Handle})
	return result, nil
}
