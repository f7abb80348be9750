package asset

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
)

const (
	// ThumbnailOffset skips the frequently black frame at t=0
	ThumbnailOffset = 100 * time.Millisecond
	// ThumbnailQuality is the JPEG quality of derived thumbnails
	ThumbnailQuality = 80
)

// FrameDecoder extracts a single frame at the given offset from a video file.
// The returned image has the native dimensions of the video.
type FrameDecoder interface {
	DecodeFrame(ctx context.Context, videoPath string, at time.Duration) (image.Image, error)
}

// Thumbnailer derives still-image thumbnails from video assets
type Thumbnailer struct {
	decoder FrameDecoder
	tempDir string
}

type ThumbnailerOption func(*Thumbnailer)

// WithTempDir sets the directory for scratch video files
func WithTempDir(dir string) ThumbnailerOption {
	return func(t *Thumbnailer) {
		t.tempDir = dir
	}
}

func NewThumbnailer(decoder FrameDecoder, opts ...ThumbnailerOption) *Thumbnailer {
	t := &Thumbnailer{decoder: decoder}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Derive decodes the frame at ThumbnailOffset and returns it as a JPEG data
// URL. The scratch file is removed whether decoding succeeds or not.
func (t *Thumbnailer) Derive(ctx context.Context, video []byte) (string, error) {
	if len(video) == 0 {
		return "", goerr.New("video asset is empty")
	}

	f, err := os.CreateTemp(t.tempDir, "veoclip-*.mp4")
	if err != nil {
		return "", goerr.Wrap(err, "failed to create scratch file")
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.From(ctx).Warn("failed to remove scratch file", "path", path, "error", err)
		}
	}()

	if _, err := f.Write(video); err != nil {
		_ = f.Close()
		return "", goerr.Wrap(err, "failed to write scratch file", goerr.V("path", path))
	}
	if err := f.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to close scratch file", goerr.V("path", path))
	}

	frame, err := t.decoder.DecodeFrame(ctx, path, ThumbnailOffset)
	if err != nil {
		return "", goerr.Wrap(err, "failed to decode video frame")
	}
	if b := frame.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return "", goerr.New("decoded frame is empty")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return "", goerr.Wrap(err, "failed to encode thumbnail")
	}

	return EncodeDataURL(&buf, "image/jpeg")
}

// FFmpeg decodes frames by running the ffmpeg binary
type FFmpeg struct {
	path string
}

// NewFFmpeg returns a FrameDecoder backed by the ffmpeg executable. An empty
// path resolves "ffmpeg" from PATH.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path}
}

func (x *FFmpeg) DecodeFrame(ctx context.Context, videoPath string, at time.Duration) (image.Image, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, x.path,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, goerr.Wrap(err, "ffmpeg failed",
			goerr.V("path", videoPath),
			goerr.V("stderr", strings.TrimSpace(stderr.String())))
	}
	if stdout.Len() == 0 {
		return nil, goerr.New("ffmpeg produced no frame",
			goerr.V("path", videoPath),
			goerr.V("stderr", strings.TrimSpace(stderr.String())))
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode ffmpeg output")
	}
	return img, nil
}

var _ FrameDecoder = (*FFmpeg)(nil)
