// Command fatdisk is the CLI driver over package session: it parses
// arguments, opens (or formats) an image, and dispatches one operation.
// Grounded on the teacher's former cmd/main.go (urfave/cli/v2 App shape) and
// original_source/main.c's subcommand set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/goblinhack/fatdisk/session"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:  "fatdisk",
		Usage: "inspect and modify FAT12/16/32 disk images without mounting them",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
			&cli.BoolFlag{Name: "vv", Usage: "enable trace-level logging"},
			&cli.Int64Flag{Name: "base-offset", Value: int64(session.NoBaseOffset), Usage: "byte offset of the filesystem on the backing file"},
			&cli.IntFlag{Name: "partition", Value: session.NoPartitionIndex, Usage: "MBR partition index (0-3) to use"},
			&cli.BoolFlag{Name: "hunt", Usage: "scan for a boot sector if the partition table yields nothing"},
		},
		Commands: []*cli.Command{
			infoCommand(),
			summaryCommand(),
			listCommand(),
			findCommand(),
			hexdumpCommand(),
			catCommand(),
			extractCommand(),
			removeCommand(),
			addCommand(),
			addFileCommand(),
			formatCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- app.RunContext(ctx, args) }()

	select {
	case <-ctx.Done():
		<-errCh
		fmt.Fprintln(os.Stderr, "fatdisk: interrupted")
		return 2
	case err := <-errCh:
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatdisk:", err)
			return 1
		}
		return 0
	}
}

// verbosity maps -v/-vv onto an slog.Level, per SPEC_FULL.md's AMBIENT
// section.
func verbosity(c *cli.Context) slog.Level {
	switch {
	case c.Bool("vv"):
		return slog.LevelDebug - 4 // a trace level below slog.LevelDebug, matching soypat-fat's custom level
	case c.Bool("verbose"):
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}

func sessionOptions(c *cli.Context) session.Options {
	return session.Options{
		HuntForBootSector: c.Bool("hunt"),
		Verbosity:         verbosity(c),
	}
}

func openSession(c *cli.Context) (*session.Session, error) {
	path := c.Args().First()
	if path == "" {
		return nil, fmt.Errorf("missing image path argument")
	}
	return session.Open(path, c.Int64("base-offset"), c.Int("partition"), sessionOptions(c))
}
