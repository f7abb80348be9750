package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/asset"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/usecase/studio"
	"github.com/urfave/cli/v3"
)

// newRequest builds a generation request from command line values
func newRequest(prompt, imagePath, ratio string) (*model.GenerationRequest, error) {
	req := &model.GenerationRequest{
		Prompt:      prompt,
		AspectRatio: model.AspectRatio(ratio),
	}
	if req.AspectRatio == "" {
		req.AspectRatio = model.DefaultAspectRatio
	}

	if imagePath != "" {
		img, err := asset.LoadImage(imagePath)
		if err != nil {
			return nil, err
		}
		req.Image = img
	}

	return req, nil
}

func writeVideo(path string, video *model.Asset) error {
	if err := os.WriteFile(path, video.Data, 0644); err != nil {
		return goerr.Wrap(err, "failed to save video", goerr.V("path", path))
	}
	return nil
}

func generateCommand() *cli.Command {
	var (
		cfg       config
		prompt    string
		imagePath string
		ratio     string
		output    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "Text prompt describing the video",
			Destination: &prompt,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "Reference image (PNG or JPEG, up to 4MB)",
			Destination: &imagePath,
		},
		&cli.StringFlag{
			Name:        "aspect-ratio",
			Aliases:     []string{"r"},
			Usage:       "Aspect ratio (16:9, 9:16, 1:1)",
			Value:       string(model.DefaultAspectRatio),
			Destination: &ratio,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Output file (default: veo_video_<timestamp>.mp4)",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, veoFlags(&cfg)...)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a video and save it",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			req, err := newRequest(prompt, imagePath, ratio)
			if err != nil {
				return err
			}

			s, _, cleanup, err := cfg.newStudio(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
			sp.Start()
			st, err := s.Generate(ctx, req, func(st studio.State) {
				sp.Lock()
				sp.Suffix = " " + st.Message
				sp.Unlock()
			})
			sp.Stop()

			if err != nil {
				return goerr.Wrap(err, "failed to generate video")
			}
			if st.Kind == studio.StateFailed {
				return goerr.New(st.Message)
			}

			video, err := s.Video(st.Ref)
			if err != nil {
				return goerr.Wrap(err, "failed to resolve video")
			}

			if output == "" {
				output = model.ResultFilename(time.Now())
			}
			if err := writeVideo(output, video); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Saved %s\n", output)
			return nil
		},
	}
}
