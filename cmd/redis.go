package cmd

import (
	"fmt"

	"videoflix/config"
	"videoflix/core/queue"
	"videoflix/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并显示任务队列长度。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("开始测试Redis连接...")

		// 加载配置
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		// 连接Redis
		client, err := db.ConnectRedis(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		// 测试Redis基本操作
		fmt.Println("开始测试Redis基本操作...")
		if err := db.CheckRedis(cmd.Context(), client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		pending, err := queue.NewRedisQueue(client, queue.DefaultRedisKey).Len(cmd.Context())
		if err != nil {
			return fmt.Errorf("读取任务队列失败: %w", err)
		}
		fmt.Printf("任务队列 %s 中有 %d 个待处理任务\n", queue.DefaultRedisKey, pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
