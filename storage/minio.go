package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"videoflix/config"
	"videoflix/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Mirror copies finished HLS trees into a MinIO bucket under the same
// media-root-relative keys used on disk.
type Mirror struct {
	client     *minio.Client
	bucketName string
}

// NewMirror 创建 MinIO 客户端并确保存储桶存在
func NewMirror(ctx context.Context, cfg *config.Config) (*Mirror, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("Created MinIO bucket", logger.String("bucket", cfg.MinioBucket))
	}

	return &Mirror{client: client, bucketName: cfg.MinioBucket}, nil
}

// Bucket returns the mirror bucket name.
func (m *Mirror) Bucket() string {
	return m.bucketName
}

// UploadDirectory uploads every regular file below localDir to
// prefix/<relative path> and returns the number of objects written.
func (m *Mirror) UploadDirectory(ctx context.Context, localDir, prefix string) (int, error) {
	files, err := collectFiles(localDir, prefix)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, f := range files {
		_, err := m.client.FPutObject(ctx, m.bucketName, f.key, f.path, minio.PutObjectOptions{
			ContentType: ContentTypeFor(f.key),
		})
		if err != nil {
			return uploaded, fmt.Errorf("上传对象 %s 失败: %w", f.key, err)
		}
		uploaded++
	}
	return uploaded, nil
}

type localObject struct {
	path string
	key  string
}

func collectFiles(localDir, prefix string) ([]localObject, error) {
	var files []localObject
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		files = append(files, localObject{path: p, key: objectKey(prefix, rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", localDir, err)
	}
	return files, nil
}

func objectKey(prefix, rel string) string {
	return path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(rel))
}

// List 列出前缀下的对象及统计信息
func (m *Mirror) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	objectCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, stats, nil
}

// DeleteDirectory 递归删除目录，返回删除的对象数量
func (m *Mirror) DeleteDirectory(ctx context.Context, prefix string) (int, error) {
	prefix = strings.Trim(prefix, "/") + "/"

	objectCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	// 收集要删除的对象
	var objectsToDelete []minio.ObjectInfo
	for object := range objectCh {
		if object.Err != nil {
			return 0, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objectsToDelete = append(objectsToDelete, object)
	}
	if len(objectsToDelete) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(objectsToDelete))
	for _, obj := range objectsToDelete {
		objectsCh <- obj
	}
	close(objectsCh)

	for err := range m.client.RemoveObjects(ctx, m.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if err.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", err.ObjectName, err.Err)
		}
	}
	return len(objectsToDelete), nil
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// ContentTypeFor 从文件名推断内容类型
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
