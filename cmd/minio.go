package cmd

import (
	"fmt"

	"videoflix/config"
	"videoflix/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理镜像到MinIO存储桶中的HLS文件，支持列出文件、查看统计信息、删除目录等功能。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		mirror, err := storage.NewMirror(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}
		fmt.Println("MinIO连接成功！")

		// 根据参数执行不同的操作
		if minioDelete {
			if minioPrefix == "" {
				return fmt.Errorf("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := mirror.DeleteDirectory(cmd.Context(), minioPrefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Printf("已删除 %d 个对象\n", n)
			return nil
		}

		objects, stats, err := mirror.List(cmd.Context(), minioPrefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}
		if minioStats {
			fmt.Println("\n存储桶统计信息:")
			fmt.Printf("  对象数量: %d\n", stats.TotalObjects)
			fmt.Printf("  总大小:   %s\n", storage.FormatSize(stats.TotalSize))
			if !stats.LastModified.IsZero() {
				fmt.Printf("  最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
			return nil
		}

		fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
		for _, obj := range objects {
			fmt.Printf("  %-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04"))
		}
		fmt.Printf("共 %d 个对象\n", len(objects))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	// 添加命令行参数
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有文件
  videoflix minio

  # 查看某个视频的 HLS 文件
  videoflix minio -p "hls/7/"

  # 显示统计信息
  videoflix minio -s

  # 删除目录及其下的所有文件
  videoflix minio -d -p "hls/7/"`
}
