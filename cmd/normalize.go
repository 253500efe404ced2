package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/taped/internal/audio"
)

// newNormalizer is replaced in tests.
var newNormalizer = audio.NewNormalizer

// newNormalizeCmd creates the 'normalize' subcommand: loudness-normalize the
// given tracks in place and tag mp3s with their position in the cassette.
func newNormalizeCmd() *cobra.Command {
	var (
		album     string
		coverPath string
		skipTags  bool
	)
	cmd := &cobra.Command{
		Use:   "normalize <file>...",
		Short: "Loudness-normalize downloaded tracks and tag them",
		Long: `Runs a two-pass ffmpeg loudnorm over every file, replacing it in place.
Tracks are numbered in argument order; mp3 files also receive ID3 title,
album, track and cover frames.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			var cover []byte
			if coverPath != "" {
				// #nosec G304 -- the cover path is an operator argument.
				cover, err = os.ReadFile(coverPath)
				if err != nil {
					return fmt.Errorf("read cover: %w", err)
				}
			}

			n := newNormalizer(rt.cfg.Audio.FFmpeg, audio.Targets{
				IntegratedLUFS: rt.cfg.Audio.IntegratedLUFS,
				LoudnessRange:  rt.cfg.Audio.LoudnessRange,
				TruePeak:       rt.cfg.Audio.TruePeak,
			}, nil, rt.logger)

			for i, path := range args {
				l, err := n.Normalize(cmd.Context(), path)
				if err != nil {
					return err
				}
				rt.logger.Info("normalized",
					zap.String("path", path),
					zap.Float64("input_i", l.InputI),
				)
				if skipTags {
					continue
				}
				err = audio.Tag(path, audio.Tags{
					Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
					Album: album,
					Track: i + 1,
					Total: len(args),
					Cover: cover,
				})
				switch {
				case errors.Is(err, audio.ErrUnsupportedFormat):
					rt.logger.Debug("not tagging", zap.String("path", path))
				case err != nil:
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "normalized %d files\n", len(args))
			return nil
		},
	}
	cmd.Flags().StringVar(&album, "album", "", "album tag, usually the cassette name")
	cmd.Flags().StringVar(&coverPath, "cover", "", "JPEG front cover to embed")
	cmd.Flags().BoolVar(&skipTags, "no-tags", false, "only normalize, do not write tags")
	return cmd
}
