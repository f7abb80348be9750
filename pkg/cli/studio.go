package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/asset"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/usecase/studio"
	"github.com/urfave/cli/v3"
)

const studioHelp = `Type a prompt to generate a video. Commands:
  /ratio <16:9|9:16|1:1>  set the aspect ratio
  /image <path>           stage a reference image
  /image clear            clear the staged image
  /history                list history entries
  /open <id>              show a history entry
  /delete <id>            delete a history entry
  /save [path]            save the shown video
  /reset                  clear the result and stop a running generation
  /status                 show the current state
  /quit                   exit
`

var errQuit = errors.New("quit")

// repl maps studio REPL input to studio operations
type repl struct {
	studio *studio.Studio
	w      io.Writer
	ratio  model.AspectRatio
	image  *model.Image
	now    func() time.Time
}

func newREPL(s *studio.Studio, w io.Writer) *repl {
	return &repl{
		studio: s,
		w:      w,
		ratio:  model.DefaultAspectRatio,
		now:    time.Now,
	}
}

// watch prints published states until ch is closed. Rejected submissions
// leave an Idle message that the read loop already reports as an error.
func (r *repl) watch(ch <-chan studio.State) {
	for st := range ch {
		switch st.Kind {
		case studio.StateSubmitting:
			fmt.Fprintf(r.w, "… %s\n", st.Message)
		case studio.StateReady:
			if st.Entry != nil {
				fmt.Fprintf(r.w, "Showing %s: %s\n", st.Entry.ID, st.Entry.Prompt)
			} else {
				fmt.Fprintf(r.w, "Video ready. Type /save to save it.\n")
			}
		case studio.StateFailed:
			fmt.Fprintf(r.w, "%s\n", st.Message)
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.submit(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return errQuit

	case "/help":
		fmt.Fprint(r.w, studioHelp)

	case "/ratio":
		ratio := model.AspectRatio(arg)
		if err := ratio.Validate(); err != nil {
			return err
		}
		r.ratio = ratio
		fmt.Fprintf(r.w, "Aspect ratio: %s (%s)\n", ratio, ratio.Label())

	case "/image":
		switch arg {
		case "":
			return goerr.New("usage: /image <path> | /image clear")
		case "clear":
			r.image = nil
			fmt.Fprintf(r.w, "Image cleared\n")
		default:
			img, err := asset.LoadImage(arg)
			if err != nil {
				return err
			}
			r.image = img
			fmt.Fprintf(r.w, "Image staged: %s (%s, %d bytes)\n", filepath.Base(arg), img.MIMEType, len(img.Data))
		}

	case "/history":
		entries := r.studio.History()
		if len(entries) == 0 {
			fmt.Fprintf(r.w, "No history yet\n")
			return nil
		}
		tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
		for _, entry := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.ID, entry.CreatedAt().Format("01-02 15:04"), truncate(entry.Prompt, 50))
		}
		return tw.Flush()

	case "/open":
		if arg == "" {
			return goerr.New("usage: /open <id>")
		}
		if _, err := r.studio.SelectHistoryEntry(model.HistoryID(arg)); err != nil {
			return err
		}

	case "/delete":
		if arg == "" {
			return goerr.New("usage: /delete <id>")
		}
		remaining := r.studio.DeleteHistoryEntry(ctx, model.HistoryID(arg))
		fmt.Fprintf(r.w, "%d entries left\n", len(remaining))

	case "/save":
		return r.save(arg)

	case "/reset":
		r.studio.Reset()

	case "/status":
		st := r.studio.State()
		fmt.Fprintf(r.w, "State: %s, ratio: %s, image staged: %t\n", st.Kind, r.ratio, r.image != nil)

	default:
		return goerr.New("unknown command, type /help", goerr.V("command", cmd))
	}

	return nil
}

func (r *repl) submit(ctx context.Context, prompt string) error {
	switch r.studio.State().Kind {
	case studio.StateFailed:
		if err := r.studio.Acknowledge(); err != nil {
			return err
		}
	case studio.StateReady:
		r.studio.Reset()
	case studio.StateSubmitting:
		return goerr.New("a generation is running, wait or /reset")
	}

	return r.studio.Submit(ctx, &model.GenerationRequest{
		Prompt:      prompt,
		Image:       r.image,
		AspectRatio: r.ratio,
	})
}

func (r *repl) save(path string) error {
	st := r.studio.State()
	if st.Kind != studio.StateReady {
		return goerr.New("no video to save")
	}

	video, err := r.studio.Video(st.Ref)
	if err != nil {
		return err
	}

	if path == "" {
		if st.Entry != nil {
			path = st.Entry.Filename()
		} else {
			path = model.ResultFilename(r.now())
		}
	}
	if err := writeVideo(path, video); err != nil {
		return err
	}
	fmt.Fprintf(r.w, "Saved %s\n", path)
	return nil
}

func studioCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, veoFlags(&cfg)...)

	return &cli.Command{
		Name:  "studio",
		Usage: "Interactive generation session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			s, _, cleanup, err := cfg.newStudio(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "veo> ",
				HistoryFile:     filepath.Join(os.TempDir(), "veoclip_studio_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "/quit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			r := newREPL(s, rl.Stdout())
			ch, unsubscribe := s.Subscribe()
			defer unsubscribe()
			go r.watch(ch)

			fmt.Fprint(rl.Stdout(), studioHelp)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if len(line) == 0 {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				if err := r.handle(ctx, line); err != nil {
					if errors.Is(err, errQuit) {
						return nil
					}
					fmt.Fprintf(rl.Stdout(), "Error: %s\n", err.Error())
				}
			}
		},
	}
}
