package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KarpelesLab/streamcache"
)

func newStatCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stat URL",
		Short: "Show what is cached for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			st, err := cachedStats(cfg.CacheDir, streamcache.ResourceID(args[0]), cfg.BlockSize)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(st))
			return nil
		},
	}
}

// cachedStats reads the cache state of id. A cache held open by a running
// server is read from its metadata record alone.
func cachedStats(dir, id string, blkSize int64) (streamcache.Stats, error) {
	store, err := streamcache.OpenStore(dir, id)
	switch {
	case err == nil:
		defer store.Close()
		return store.Stats(blkSize), nil
	case errors.Is(err, streamcache.ErrLocked):
		idx, err := streamcache.LoadRangeIndex(streamcache.DataPath(dir, id) + ".segments")
		if err != nil {
			return streamcache.Stats{}, err
		}
		return idx.Stats(blkSize), nil
	default:
		return streamcache.Stats{}, err
	}
}

func renderStats(st streamcache.Stats) string {
	firstMissing := "-"
	if st.FirstMissing >= 0 {
		firstMissing = humanize.Comma(st.FirstMissing)
	}
	contentType := st.ContentType
	if contentType == "" {
		contentType = "unknown"
	}

	pct := 0.0
	if st.ContentLength > 0 {
		pct = float64(st.CachedBytes) * 100 / float64(st.ContentLength)
	}

	rows := [][2]string{
		{"Content type", contentType},
		{"Content length", humanize.IBytes(uint64(st.ContentLength))},
		{"Cached", fmt.Sprintf("%s (%.1f%%)", humanize.IBytes(uint64(st.CachedBytes)), pct)},
		{"Ranges", strconv.Itoa(st.Ranges)},
		{"Blocks", fmt.Sprintf("%d / %d of %s", st.Blocks, st.TotalBlocks, humanize.IBytes(uint64(st.BlockSize)))},
		{"Complete", strconv.FormatBool(st.Complete)},
		{"First missing byte", firstMissing},
	}
	return renderKeyValues([2]string{"Field", "Value"}, rows)
}
