package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/goblinhack/fatdisk/format"
	"github.com/goblinhack/fatdisk/session"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print short filesystem geometry",
		ArgsUsage: "IMAGE",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Info(os.Stdout)
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "print full filesystem geometry and free space",
		ArgsUsage: "IMAGE",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Summary(os.Stdout, true)
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list entries matching a filter",
		ArgsUsage: "IMAGE [FILTER]",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			_, err = s.List(os.Stdout, c.Args().Get(1))
			return err
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Usage:     "locate entries matching a filter",
		ArgsUsage: "IMAGE FILTER",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "keep matching past the first hit"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			matches, _, err := s.Find(c.Args().Get(1), c.Bool("all"))
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Println(m.Path)
			}
			return nil
		},
	}
}

func hexdumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "hexdump",
		Usage:     "hex dump files matching a filter",
		ArgsUsage: "IMAGE FILTER",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			_, err = s.Hexdump(os.Stdout, c.Args().Get(1))
			return err
		},
	}
}

func catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "dump files matching a filter to stdout",
		ArgsUsage: "IMAGE FILTER",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			_, err = s.Cat(os.Stdout, c.Args().Get(1))
			return err
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "copy files matching a filter onto the host filesystem",
		ArgsUsage: "IMAGE FILTER",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "destination directory"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			count, err := s.Extract(c.Args().Get(1), c.String("output"))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "extracted %d entries\n", count)
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "remove files/directories matching a filter",
		ArgsUsage: "IMAGE FILTER",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			_, err = s.Remove(c.Args().Get(1))
			return err
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "copy a host file or directory tree into the image",
		ArgsUsage: "IMAGE HOST_PATH DOS_PATH",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			_, err = s.Add(c.Args().Get(1), c.Args().Get(2))
			return err
		},
	}
}

func addFileCommand() *cli.Command {
	return &cli.Command{
		Name:      "add-file",
		Usage:     "copy a single host file into the image, renamed to DOS_PATH",
		ArgsUsage: "IMAGE HOST_PATH DOS_PATH",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			_, err = s.AddFile(c.Args().Get(1), c.Args().Get(2))
			return err
		},
	}
}

func formatCommand() *cli.Command {
	return &cli.Command{
		Name:      "format",
		Usage:     "create a fresh FAT12/16/32 filesystem",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "size", Usage: "image size in bytes (unneeded with -preset)"},
			&cli.IntFlag{Name: "variant", Usage: "12, 16, or 32; 0 autodetects"},
			&cli.StringFlag{Name: "label", Usage: "volume label"},
			&cli.BoolFlag{Name: "zero", Usage: "zero every sector instead of just head/tail"},
			&cli.StringFlag{Name: "preset", Usage: "named media geometry, e.g. floppy1440"},
		},
		Action: func(c *cli.Context) error {
			params := session.FormatParams{
				SizeBytes:      c.Int64("size"),
				PartitionIndex: c.Int("partition"),
				VolumeName:     c.String("label"),
				Variant:        c.Int("variant"),
				ZeroSectors:    c.Bool("zero"),
			}
			if presetName := c.String("preset"); presetName != "" {
				preset, ok := format.GetPreset(presetName)
				if !ok {
					return fmt.Errorf("unknown geometry preset %q (known: %v)", presetName, format.PresetNames())
				}
				params.SectorSize = preset.SectorSize
				params.SectorEnd = preset.TotalSectors
				if params.Variant == 0 {
					params.Variant = preset.Variant
				}
				if params.SizeBytes == 0 {
					params.SizeBytes = int64(preset.TotalSectors) * int64(preset.SectorSize)
				}
			}
			s, err := session.Format(c.Args().First(), params, sessionOptions(c))
			if err != nil {
				return err
			}
			return s.Close()
		},
	}
}
