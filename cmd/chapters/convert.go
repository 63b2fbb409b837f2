package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/config"
	"github.com/heimdex/chapter-agent/internal/db"
	"github.com/heimdex/chapter-agent/internal/export"
	"github.com/heimdex/chapter-agent/internal/fetch"
	"github.com/heimdex/chapter-agent/internal/logging"
	"github.com/heimdex/chapter-agent/internal/session"
	"github.com/heimdex/chapter-agent/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const imageWriteConcurrency = 4

type convertInput struct {
	Path     string
	From     string
	To       string
	Duration float64
	Images   bool
	BaseURL  string
	OutDir   string
}

func convertCmd() *cobra.Command {
	in := convertInput{Duration: -1}

	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a chapter document between formats",
		Long: "Convert a Podlove XML or JSON chapter document to podlove, json or a plain list.\n" +
			"With --images, referenced images are downloaded and, with --out-dir, written next to the output.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			in.Path = args[0]
			if in.BaseURL == "" {
				in.BaseURL = cfg.ImageBaseURL()
			}

			logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel())
			var fetcher fetch.Fetcher
			if in.Images {
				fetcher = fetch.NewClient(cfg.FetchTimeout(), cfg.MaxImageBytes(), logging.WithComponent(logger, "fetch"))
			}
			return runConvert(cmd.Context(), in, fetcher, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&in.From, "from", "", "input format: podlove or json (default: from file extension)")
	cmd.Flags().StringVar(&in.To, "to", chapterfmt.FormatJSON, "output format: podlove, json or list")
	cmd.Flags().Float64Var(&in.Duration, "duration", -1, "media duration in seconds (negative: unknown)")
	cmd.Flags().BoolVar(&in.Images, "images", false, "download chapter images and link them in the output")
	cmd.Flags().StringVar(&in.BaseURL, "base-url", "", "URL prefix for image links")
	cmd.Flags().StringVar(&in.OutDir, "out-dir", "", "write the output and images to this directory instead of stdout")
	return cmd
}

func listCmd() *cobra.Command {
	var from string
	var copyList bool

	cmd := &cobra.Command{
		Use:   "list FILE",
		Short: "Print a chapter document as a plain list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerTo(os.Stderr, "warn")
			list, err := renderList(cmd.Context(), args[0], from, logger)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), list)
			if copyList {
				if err := clipboard.WriteAll(list); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "copied to clipboard")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "input format: podlove or json (default: from file extension)")
	cmd.Flags().BoolVar(&copyList, "copy", false, "also copy the list to the clipboard")
	return cmd
}

// formatFromPath guesses the import format from a file extension.
func formatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".psc":
		return chapterfmt.FormatPodlove, nil
	case ".json":
		return chapterfmt.FormatJSON, nil
	default:
		return "", fmt.Errorf("cannot infer format of %s, use --from", filepath.Base(path))
	}
}

func readDocument(path, from string) ([]byte, string, error) {
	if from == "" {
		f, err := formatFromPath(path)
		if err != nil {
			return nil, "", err
		}
		from = f
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, from, nil
}

func renderList(ctx context.Context, path, from string, logger *slog.Logger) (string, error) {
	data, from, err := readDocument(path, from)
	if err != nil {
		return "", err
	}

	mgr := session.NewManager(session.ManagerConfig{Logger: logger})
	s := mgr.Create(filepath.Base(path), -1)
	defer mgr.Close(ctx, s.ID)

	if _, err := s.Import(ctx, from, data); err != nil {
		return "", err
	}
	list, err := s.ExportList()
	if err != nil {
		return "", err
	}
	return string(list), nil
}

// runConvert imports in.Path into a throwaway session backed by a temporary
// image store and renders it in the target format.
func runConvert(ctx context.Context, in convertInput, fetcher fetch.Fetcher, stdout io.Writer, logger *slog.Logger) error {
	data, from, err := readDocument(in.Path, in.From)
	if err != nil {
		return err
	}
	if in.OutDir != "" {
		if err := export.ValidateOutputDir(in.OutDir); err != nil {
			return err
		}
	}

	tmpDir, err := os.MkdirTemp("", "chapters-convert-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	database, err := db.New(filepath.Join(tmpDir, "convert.db"), logger)
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}
	defer database.Close()
	repo := store.NewRepository(database.Conn(), logger)

	mgr := session.NewManager(session.ManagerConfig{
		Images:  repo,
		Fetcher: fetcher,
		Logger:  logger,
	})
	s := mgr.Create(filepath.Base(in.Path), in.Duration)
	defer mgr.Close(context.Background(), s.ID)

	result, err := s.Import(ctx, from, data)
	if err != nil {
		return err
	}
	if result.Errored > 0 {
		logger.Warn("chapters with unreadable start times were skipped", "count", result.Errored)
	}

	out, err := s.Export(in.To, &chapterfmt.ExportOptions{
		IncludeImageLinks: in.Images,
		ImageBaseURL:      in.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", in.To, err)
	}

	if in.OutDir == "" {
		_, err := stdout.Write(out)
		return err
	}

	path, err := export.WriteDocument(in.OutDir, s.ExportFilename(in.To), out)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, path)

	if in.Images {
		written, err := writeImages(ctx, repo, s.ID, in.OutDir)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintln(stdout, p)
		}
	}
	return nil
}

// writeImages copies every image of a session into dir under the names
// used by exported image links.
func writeImages(ctx context.Context, images store.ImageStore, sessionID, dir string) ([]string, error) {
	list, err := images.ListSessionImages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	written := make([]string, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageWriteConcurrency)
	for i, meta := range list {
		g.Go(func() error {
			img, err := images.GetImage(gctx, meta.ID)
			if err != nil {
				return fmt.Errorf("load image %s: %w", meta.ID, err)
			}
			if img == nil {
				return fmt.Errorf("image %s disappeared", meta.ID)
			}
			path, err := export.WriteDocument(dir, chapterfmt.ImageFilename(img.ID), img.Data)
			if err != nil {
				return err
			}
			written[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return written, nil
}
