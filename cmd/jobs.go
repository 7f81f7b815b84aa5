package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// batchFunc enqueues work and reports how many jobs it scheduled.
type batchFunc func(ctx context.Context, a *app) (int, error)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess-hls",
	Short: "为所有视频重新生成 HLS 输出",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, func(ctx context.Context, a *app) (int, error) {
			return a.lib.EnqueueAll(ctx)
		})
	},
}

var thumbnailsCmd = &cobra.Command{
	Use:   "generate-thumbnails",
	Short: "为缺少缩略图的视频生成缩略图",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, func(ctx context.Context, a *app) (int, error) {
			return a.lib.EnqueueMissingThumbnails(ctx)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore-videos",
	Short: "为 video 目录中没有记录的原始文件补建记录",
	Long:  `扫描媒体根目录下的 video 目录，为缺少数据库记录的视频文件创建记录，并为它们安排 HLS 转码。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, func(ctx context.Context, a *app) (int, error) {
			restored, err := a.lib.Restore(ctx)
			if err != nil {
				return 0, err
			}
			fmt.Printf("Restored %d video record(s)\n", restored)

			videos, err := a.videos.List(ctx)
			if err != nil {
				return 0, err
			}
			scheduled := 0
			for _, v := range videos {
				if v.HasHLS() {
					continue
				}
				if err := a.lib.EnqueueHLS(ctx, v); err != nil {
					fmt.Printf("  video %d: %v\n", v.ID, err)
					continue
				}
				scheduled++
			}
			return scheduled, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(reprocessCmd, thumbnailsCmd, restoreCmd)
}

// runBatch schedules jobs. With Redis they go to the shared queue for a
// running server; otherwise they are processed here before returning.
func runBatch(cmd *cobra.Command, enqueue batchFunc) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	local := !a.cfg.RedisEnabled
	if local {
		a.pool.Start()
	}

	n, err := enqueue(ctx, a)
	if err != nil {
		return err
	}
	if !local {
		fmt.Printf("Queued %d job(s) on %s\n", n, a.cfg.RedisHost)
		return nil
	}

	fmt.Printf("Processing %d job(s)...\n", n)
	if err := a.waitPending(ctx); err != nil {
		// ctx is already done, so running jobs are cancelled
		a.pool.Shutdown(ctx)
		return fmt.Errorf("interrupted: %w", err)
	}
	if err := a.pool.Shutdown(context.Background()); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}
