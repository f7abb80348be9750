package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/asset"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/usecase/studio"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "veoclip"
	serverVersion = "0.1.0"
)

// Server exposes the studio as MCP tools. Generations are serialized since
// the studio runs one job at a time.
type Server struct {
	studio    *studio.Studio
	outputDir string
	now       func() time.Time

	genMu sync.Mutex
}

type Option func(*Server)

// WithOutputDir sets where generated videos are saved when the caller gives
// no output path
func WithOutputDir(dir string) Option {
	return func(s *Server) {
		s.outputDir = dir
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(s *studio.Studio, opts ...Option) *Server {
	srv := &Server{
		studio:    s,
		outputDir: ".",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

type generateVideoParams struct {
	Prompt      string `json:"prompt" jsonschema:"Text prompt describing the video"`
	AspectRatio string `json:"aspect_ratio,omitempty" jsonschema:"Aspect ratio of the video. Defaults to 16:9"`
	ImagePath   string `json:"image_path,omitempty" jsonschema:"Path of a PNG or JPEG reference image up to 4MB"`
	OutputPath  string `json:"output_path,omitempty" jsonschema:"Where to save the MP4 file"`
}

type deleteHistoryParams struct {
	ID string `json:"id" jsonschema:"History entry ID such as vid_1700000000000"`
}

// generateVideoSchema restricts aspect_ratio to the supported values
func generateVideoSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[generateVideoParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build generate_video schema")
	}

	if prop, ok := schema.Properties["aspect_ratio"]; ok {
		for _, ratio := range model.AspectRatios() {
			prop.Enum = append(prop.Enum, string(ratio))
		}
	}
	return schema, nil
}

// NewMCPServer builds the protocol server with all tools registered
func (x *Server) NewMCPServer() (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	schema, err := generateVideoSchema()
	if err != nil {
		return nil, err
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_video",
		Description: "Generate a short video with Veo from a text prompt and an optional reference image, and save it as MP4",
		InputSchema: schema,
	}, x.generateVideo)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_history",
		Description: "List previously generated videos, newest first",
	}, x.listHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_history",
		Description: "Delete a previously generated video from the history",
	}, x.deleteHistory)

	return server, nil
}

// RunStdio serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects
func (x *Server) RunStdio(ctx context.Context) error {
	server, err := x.NewMCPServer()
	if err != nil {
		return err
	}
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "failed to run MCP server")
	}
	return nil
}

// Handler serves MCP over streamable HTTP
func (x *Server) Handler() (http.Handler, error) {
	server, err := x.NewMCPServer()
	if err != nil {
		return nil, err
	}
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}

func (x *Server) generateVideo(ctx context.Context, req *mcp.CallToolRequest, params *generateVideoParams) (*mcp.CallToolResult, any, error) {
	logger := logging.From(ctx)

	genReq := &model.GenerationRequest{
		Prompt:      params.Prompt,
		AspectRatio: model.AspectRatio(params.AspectRatio),
	}
	if genReq.AspectRatio == "" {
		genReq.AspectRatio = model.DefaultAspectRatio
	}
	if params.ImagePath != "" {
		img, err := asset.LoadImage(params.ImagePath)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		genReq.Image = img
	}

	x.genMu.Lock()
	defer x.genMu.Unlock()

	st, err := x.studio.Generate(ctx, genReq, func(st studio.State) {
		logger.Debug("generation progress", "message", st.Message)
	})
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if st.Kind == studio.StateFailed {
		if err := x.studio.Acknowledge(); err != nil {
			logger.Warn("failed to acknowledge failure", "error", err)
		}
		return errorResult(st.Message), nil, nil
	}
	defer x.studio.Reset()

	video, err := x.studio.Video(st.Ref)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to resolve generated video")
	}

	path := params.OutputPath
	if path == "" {
		path = filepath.Join(x.outputDir, model.ResultFilename(x.now()))
	}
	if err := os.WriteFile(path, video.Data, 0644); err != nil {
		return errorResult(fmt.Sprintf("failed to save video to %s: %s", path, err.Error())), nil, nil
	}

	text := fmt.Sprintf("Saved video to %s (%d bytes)", path, len(video.Data))
	if entries := x.studio.History(); len(entries) > 0 {
		text += fmt.Sprintf(", history id %s", entries[0].ID)
	}
	return textResult(text), nil, nil
}

func (x *Server) listHistory(ctx context.Context, req *mcp.CallToolRequest, params *struct{}) (*mcp.CallToolResult, any, error) {
	entries := x.studio.History()
	if len(entries) == 0 {
		return textResult("No history yet"), nil, nil
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s",
			entry.ID,
			entry.CreatedAt().Format(time.RFC3339),
			entry.Prompt,
		))
	}
	return textResult(strings.Join(lines, "\n")), nil, nil
}

func (x *Server) deleteHistory(ctx context.Context, req *mcp.CallToolRequest, params *deleteHistoryParams) (*mcp.CallToolResult, any, error) {
	id := model.HistoryID(params.ID)
	found := false
	for _, entry := range x.studio.History() {
		if entry.ID == id {
			found = true
			break
		}
	}
	if !found {
		return errorResult(fmt.Sprintf("history entry %s not found", id)), nil, nil
	}

	remaining := x.studio.DeleteHistoryEntry(ctx, id)
	return textResult(fmt.Sprintf("Deleted %s, %d entries left", id, len(remaining))), nil, nil
}
