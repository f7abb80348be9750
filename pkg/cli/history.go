package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/asset"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/urfave/cli/v3"
)

// historyRow is the listing view of an entry, without the embedded media
type historyRow struct {
	ID        model.HistoryID `json:"id" yaml:"id"`
	Prompt    string          `json:"prompt" yaml:"prompt"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	VideoSize int             `json:"video_size" yaml:"video_size"`
}

func newHistoryRow(entry *model.HistoryEntry) historyRow {
	row := historyRow{
		ID:        entry.ID,
		Prompt:    entry.Prompt,
		CreatedAt: entry.CreatedAt(),
	}
	if data, _, err := asset.ParseDataURL(entry.VideoDataURL); err == nil {
		row.VideoSize = len(data)
	}
	return row
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Manage generated videos kept in the history",
		Commands: []*cli.Command{
			historyListCommand(),
			historyShowCommand(),
			historyDeleteCommand(),
			historyExportCommand(),
		},
	}
}

func historyListCommand() *cli.Command {
	var (
		cfg    config
		format string
	)

	flags := []cli.Flag{formatFlag(&format)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List history entries, newest first",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			store, err := cfg.newHistoryStore(ctx)
			if err != nil {
				return err
			}

			entries := store.List()
			rows := make([]historyRow, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, newHistoryRow(entry))
			}

			return render(c.Root().Writer, format, rows, func(tw *tabwriter.Writer) {
				if len(rows) == 0 {
					fmt.Fprintf(tw, "No history yet\n")
					return
				}
				fmt.Fprintf(tw, "ID\tCREATED\tSIZE\tPROMPT\n")
				for _, row := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
						row.ID,
						row.CreatedAt.Format("2006-01-02 15:04:05"),
						row.VideoSize,
						truncate(row.Prompt, 60),
					)
				}
			})
		},
	}
}

func historyShowCommand() *cli.Command {
	var (
		cfg    config
		id     string
		format string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "History entry ID",
			Destination: &id,
			Required:    true,
		},
		formatFlag(&format),
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show a history entry",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			store, err := cfg.newHistoryStore(ctx)
			if err != nil {
				return err
			}

			entry, err := store.Get(model.HistoryID(id))
			if err != nil {
				return err
			}

			row := newHistoryRow(entry)
			return render(c.Root().Writer, format, row, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ID:\t%s\n", row.ID)
				fmt.Fprintf(tw, "Created:\t%s\n", row.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(tw, "Video size:\t%d bytes\n", row.VideoSize)
				fmt.Fprintf(tw, "Filename:\t%s\n", entry.Filename())
				fmt.Fprintf(tw, "Prompt:\t%s\n", row.Prompt)
			})
		},
	}
}

func historyDeleteCommand() *cli.Command {
	var (
		cfg config
		id  string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "History entry ID",
			Destination: &id,
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:    "delete",
		Aliases: []string{"rm"},
		Usage:   "Delete a history entry",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			store, err := cfg.newHistoryStore(ctx)
			if err != nil {
				return err
			}

			if _, err := store.Get(model.HistoryID(id)); err != nil {
				return err
			}
			remaining := store.Remove(ctx, model.HistoryID(id))

			fmt.Fprintf(c.Root().Writer, "Deleted %s (%d entries left)\n", id, len(remaining))
			return nil
		},
	}
}

func historyExportCommand() *cli.Command {
	var (
		cfg       config
		id        string
		output    string
		thumbnail string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "History entry ID",
			Destination: &id,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Output file (default: veo_video_<id>.mp4)",
			Destination: &output,
		},
		&cli.StringFlag{
			Name:        "thumbnail",
			Usage:       "Also write the thumbnail JPEG to this file",
			Destination: &thumbnail,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Save the video of a history entry to a file",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			store, err := cfg.newHistoryStore(ctx)
			if err != nil {
				return err
			}

			entry, err := store.Get(model.HistoryID(id))
			if err != nil {
				return err
			}

			data, mimeType, err := asset.ParseDataURL(entry.VideoDataURL)
			if err != nil {
				return goerr.Wrap(err, "failed to decode stored video", goerr.V("id", id))
			}
			if output == "" {
				output = entry.Filename()
			}
			if err := writeVideo(output, &model.Asset{Data: data, MIMEType: mimeType}); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Saved %s\n", output)

			if thumbnail != "" {
				data, mimeType, err := asset.ParseDataURL(entry.ThumbnailDataURL)
				if err != nil {
					return goerr.Wrap(err, "failed to decode stored thumbnail", goerr.V("id", id))
				}
				if err := writeVideo(thumbnail, &model.Asset{Data: data, MIMEType: mimeType}); err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "Saved %s\n", thumbnail)
			}

			return nil
		},
	}
}
