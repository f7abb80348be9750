package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
	"google.golang.org/genai"
)

const DefaultVideoModel = "veo-2.0-generate-001"

// VideoInput is one generation submitted to the remote API
type VideoInput struct {
	Prompt string
	Image  *model.Image
}

// Veo is the interface of the remote video generation API
type Veo interface {
	// Submit starts a generation and returns the initial job state
	Submit(ctx context.Context, input *VideoInput) (*model.Job, error)
	// Poll fetches the latest state of the job identified by handle
	Poll(ctx context.Context, handle string) (*model.Job, error)
}

type VeoClient struct {
	client         *genai.Client
	model          string
	numberOfVideos int32
}

type VeoOption func(*VeoClient)

func WithVideoModel(model string) VeoOption {
	return func(v *VeoClient) {
		v.model = model
	}
}

// NewVeoWithAPIKey creates a client for the Gemini API backend
func NewVeoWithAPIKey(ctx context.Context, apiKey string, opts ...VeoOption) (*VeoClient, error) {
	return newVeo(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

// NewVeoWithVertex creates a client for the Vertex AI backend
func NewVeoWithVertex(ctx context.Context, projectID, location string, opts ...VeoOption) (*VeoClient, error) {
	return newVeo(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, opts...)
}

func newVeo(ctx context.Context, cfg *genai.ClientConfig, opts ...VeoOption) (*VeoClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	v := &VeoClient{
		client:         client,
		model:          DefaultVideoModel,
		numberOfVideos: 1,
	}
	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

func (v *VeoClient) Submit(ctx context.Context, input *VideoInput) (*model.Job, error) {
	var image *genai.Image
	if input.Image != nil {
		image = &genai.Image{
			ImageBytes: input.Image.Data,
			MIMEType:   input.Image.MIMEType,
		}
	}

	op, err := v.client.Models.GenerateVideos(ctx, v.model, input.Prompt, image, &genai.GenerateVideosConfig{
		NumberOfVideos: v.numberOfVideos,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to submit video generation", goerr.V("model", v.model))
	}

	return jobFromOperation(op), nil
}

func (v *VeoClient) Poll(ctx context.Context, handle string) (*model.Job, error) {
	op, err := v.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: handle}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to poll video generation", goerr.V("operation", handle))
	}

	return jobFromOperation(op), nil
}

// jobFromOperation converts the SDK operation into a job state
func jobFromOperation(op *genai.GenerateVideosOperation) *model.Job {
	job := &model.Job{
		Handle: op.Name,
		Done:   op.Done,
	}

	if op.Error != nil {
		job.Error = operationErrorMessage(op.Error)
	}

	if op.Response != nil && len(op.Response.GeneratedVideos) > 0 {
		if video := op.Response.GeneratedVideos[0].Video; video != nil && (video.URI != "" || len(video.VideoBytes) > 0) {
			job.Result = &model.Asset{
				URI:      video.URI,
				Data:     video.VideoBytes,
				MIMEType: video.MIMEType,
			}
		}
	}

	return job
}

func operationErrorMessage(e map[string]any) string {
	if msg, ok := e["message"].(string); ok && msg != "" {
		return msg
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprint(e)
	}
	return string(raw)
}

var _ Veo = (*VeoClient)(nil)
