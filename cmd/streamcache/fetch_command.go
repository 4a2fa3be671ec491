package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/KarpelesLab/streamcache"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch URL",
		Short: "Download the whole resource into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			coord, err := streamcache.Open(cfg.CacheDir, args[0], coordinatorOptions(cfg, streamcache.NewLogObserver(logger)))
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}

			n, err := prefetch(coord)
			if serr := coord.Shutdown(); err == nil {
				err = serr
			}
			if err != nil {
				return err
			}

			st := coord.Store().Stats(cfg.BlockSize)
			logger.WithFields(logrus.Fields{"action": "fetch", "complete": st.Complete}).Debug("prefetch done")
			fmt.Fprintf(cmd.OutOrStdout(), "%s read, %s of %s cached\n",
				humanize.IBytes(uint64(n)), humanize.IBytes(uint64(st.CachedBytes)), humanize.IBytes(uint64(st.ContentLength)))
			return nil
		},
	}
}

// prefetch reads the whole resource once. Cached stretches come from disk
// and every gap is fetched on the way.
func prefetch(coord *streamcache.Coordinator) (int64, error) {
	req, err := coord.Submit(0, streamcache.ToEnd)
	if err != nil {
		return 0, err
	}
	defer req.Close()

	n, err := req.WriteTo(io.Discard)
	if err != nil {
		return n, err
	}
	coord.Sync()
	return n, nil
}
