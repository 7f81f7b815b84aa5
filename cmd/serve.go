package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videoflix/core/auth"
	"videoflix/core/library"
	"videoflix/logger"
	"videoflix/server"

	"github.com/spf13/cobra"
)

var (
	serveWatch   bool
	serveRestore bool
	shutdownWait time.Duration
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "启动 HTTP 服务和转码 worker",
	Long:    `启动 API 服务器，处理上传、HLS 播放请求，并在后台运行转码任务队列。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "监听 video 目录，自动登记直接拷贝进来的视频")
	serveCmd.Flags().BoolVar(&serveRestore, "restore", false, "启动时为没有记录的原始视频补建记录并转码")
	serveCmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 30*time.Second, "等待运行中任务结束的最长时间")
}

func runServe(parent context.Context) error {
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

	if err := a.cfg.RequireJWTSecret(); err != nil {
		return err
	}
	tokens := auth.NewTokenManager(a.cfg.JWTSecret, a.cfg.JWTTTL)

	a.pool.Start()

	if serveRestore {
		restoreAndSchedule(ctx, a)
	}

	watchDone := make(chan struct{})
	if serveWatch {
		w := library.NewWatcher(a.lib, 0)
		go func() {
			defer close(watchDone)
			if err := w.Run(ctx); err != nil {
				logger.Error("Video watcher stopped", logger.ErrorField(err))
			}
		}()
	} else {
		close(watchDone)
	}

	h := server.NewAPIHandler(a.cfg, a.videos, a.users, a.lib, tokens)
	serveErr := server.Run(ctx, a.cfg.ServerAddr, server.NewRouter(h))
	stop()
	<-watchDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := a.pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Running jobs were cancelled", logger.ErrorField(err))
	}
	return serveErr
}

func restoreAndSchedule(ctx context.Context, a *app) {
	restored, err := a.lib.Restore(ctx)
	if err != nil {
		logger.Error("Restore failed", logger.ErrorField(err))
	}
	if restored == 0 {
		return
	}
	videos, err := a.videos.List(ctx)
	if err != nil {
		logger.Error("Failed to list videos after restore", logger.ErrorField(err))
		return
	}
	for _, v := range videos {
		if v.HasHLS() {
			continue
		}
		if err := a.lib.EnqueueHLS(ctx, v); err != nil {
			logger.Warn("Failed to schedule restored video", logger.VideoID(v.ID), logger.ErrorField(err))
		}
	}
}
