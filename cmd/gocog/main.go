// Command gocog inspects and rewrites Cloud Optimized GeoTIFFs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gocog "github.com/geocog/gocog"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "gocog",
		Short:         "Inspect and rewrite Cloud Optimized GeoTIFFs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(verbose)
		if err != nil {
			return err
		}
		cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
		return nil
	}

	root.AddCommand(newInspectCmd(), newConvertCmd())
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

type loggerKey struct{}

// loggerFrom returns the command's configured logger, falling back to a
// no-op logger for commands invoked without going through newRootCmd (e.g.
// directly in tests).
func loggerFrom(cmd *cobra.Command) *zap.Logger {
	if l, ok := cmd.Context().Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.tif>",
		Short: "Print the resolution levels (IFD chain) of a COG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFrom(cmd)
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			src := gocog.NewFileSource(f)

			c, err := gocog.Open(src)
			if err != nil {
				return fmt.Errorf("open cog: %w", err)
			}
			for _, w := range c.Warnings {
				logger.Warn("recovered parse warning", zap.Int64("offset", w.Offset), zap.String("message", w.Message))
			}

			pyr := gocog.BuildPyramid(c)
			for _, lvl := range pyr {
				ifd := c.IFDs[lvl.Index]
				fmt.Printf("level %d: %dx%d, tile %dx%d, compression=%d, tags=%d\n",
					lvl.Index, lvl.Width, lvl.Height, lvl.TileWidth, lvl.TileHeight, ifd.Compression(), len(ifd.Tags))
			}
			return nil
		},
	}
}

func newConvertCmd() *cobra.Command {
	var destCompression string

	cmd := &cobra.Command{
		Use:   "convert <in.tif> <out.tif>",
		Short: "Rewrite a COG, optionally transcoding tile compression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFrom(cmd)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			src := gocog.NewFileSource(f)

			c, err := gocog.Open(src)
			if err != nil {
				return fmt.Errorf("open cog: %w", err)
			}

			var opts []gocog.WriterOption
			if destCompression != "" {
				codec, err := destinationCodec(destCompression)
				if err != nil {
					return err
				}
				opts = append(opts, gocog.WithDestinationCodec(codec))
			}

			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[1], err)
			}
			defer out.Close()

			logger.Info("rewriting cog", zap.String("in", args[0]), zap.String("out", args[1]), zap.Int("levels", len(c.IFDs)))
			if err := gocog.Write(out, c, opts...); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&destCompression, "compression", "", "transcode tiles to this compression: none, lzw, jpeg, deflate")
	return cmd
}

func destinationCodec(name string) (gocog.Codec, error) {
	switch name {
	case "none":
		return gocog.NewIdentityEncoder(), nil
	case "lzw":
		return gocog.NewLZWEncoder(), nil
	case "jpeg":
		return gocog.NewJPEGEncoder(), nil
	case "deflate":
		return gocog.NewDeflateEncoder(true), nil
	default:
		return nil, fmt.Errorf("unknown --compression %q", name)
	}
}
