// Package cache keeps the video catalogue listing in Redis so list requests
// do not hit the database every time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"videoflix/logger"
	"videoflix/model"
	"videoflix/repository"

	"github.com/redis/go-redis/v9"
)

// VideoListKey holds the serialized catalogue. Every process sharing the
// Redis instance invalidates the same key.
const VideoListKey = "videoflix:videos:list"

const (
	defaultListTTL = 30 * time.Second
	opTimeout      = 2 * time.Second
)

// cachedVideo mirrors model.Video including the fields hidden from API JSON.
type cachedVideo struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	VideoFile   string    `json:"video_file"`
	HLSMaster   string    `json:"hls_master"`
	Trailer     string    `json:"trailer"`
	Thumbnail   string    `json:"thumbnail"`
}

// VideoRepository wraps a repository.VideoRepository and serves List from
// Redis. Writes go to the database first and then drop the cached list.
type VideoRepository struct {
	repository.VideoRepository
	client redis.UniversalClient
	ttl    time.Duration
}

// NewVideoRepository creates the caching decorator. A non-positive ttl uses
// 30 seconds.
func NewVideoRepository(inner repository.VideoRepository, client redis.UniversalClient, ttl time.Duration) *VideoRepository {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	return &VideoRepository{VideoRepository: inner, client: client, ttl: ttl}
}

// List returns the cached catalogue, loading it from the database on a miss.
// Redis errors fall through to the database.
func (r *VideoRepository) List(ctx context.Context) ([]*model.Video, error) {
	if videos, ok := r.load(ctx); ok {
		return videos, nil
	}

	videos, err := r.VideoRepository.List(ctx)
	if err != nil {
		return nil, err
	}
	r.store(ctx, videos)
	return videos, nil
}

func (r *VideoRepository) Create(ctx context.Context, video *model.Video) error {
	if err := r.VideoRepository.Create(ctx, video); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

func (r *VideoRepository) UpdateArtifacts(ctx context.Context, id uint, artifacts repository.Artifacts) error {
	if err := r.VideoRepository.UpdateArtifacts(ctx, id, artifacts); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

func (r *VideoRepository) UpdateThumbnail(ctx context.Context, id uint, thumbnail string) error {
	if err := r.VideoRepository.UpdateThumbnail(ctx, id, thumbnail); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

func (r *VideoRepository) Delete(ctx context.Context, id uint) (*model.Video, error) {
	video, err := r.VideoRepository.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Invalidate(ctx)
	return video, nil
}

// Invalidate drops the cached list.
func (r *VideoRepository) Invalidate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, VideoListKey).Err(); err != nil {
		logger.Warn("删除视频列表缓存失败", logger.ErrorField(err))
	}
}

func (r *VideoRepository) load(ctx context.Context) ([]*model.Video, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, VideoListKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("获取视频列表缓存失败，从数据库读取", logger.ErrorField(err))
		}
		return nil, false
	}

	videos, err := decodeVideos(data)
	if err != nil {
		logger.Warn("视频列表缓存已损坏", logger.ErrorField(err))
		return nil, false
	}
	logger.Debug("视频列表缓存命中", logger.Int("count", len(videos)))
	return videos, true
}

func (r *VideoRepository) store(ctx context.Context, videos []*model.Video) {
	data, err := encodeVideos(videos)
	if err != nil {
		logger.Warn("序列化视频列表失败", logger.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, VideoListKey, data, r.ttl).Err(); err != nil {
		logger.Warn("设置视频列表缓存失败",
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
	}
}

func encodeVideos(videos []*model.Video) ([]byte, error) {
	entries := make([]cachedVideo, 0, len(videos))
	for _, v := range videos {
		entries = append(entries, cachedVideo{
			ID:          v.ID,
			Title:       v.Title,
			Description: v.Description,
			Category:    v.Category,
			CreatedAt:   v.CreatedAt,
			UpdatedAt:   v.UpdatedAt,
			VideoFile:   v.VideoFile,
			HLSMaster:   v.HLSMaster,
			Trailer:     v.Trailer,
			Thumbnail:   v.Thumbnail,
		})
	}
	return json.Marshal(entries)
}

func decodeVideos(data []byte) ([]*model.Video, error) {
	var entries []cachedVideo
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	videos := make([]*model.Video, 0, len(entries))
	for _, e := range entries {
		videos = append(videos, &model.Video{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Category:    e.Category,
			CreatedAt:   e.CreatedAt,
			UpdatedAt:   e.UpdatedAt,
			VideoFile:   e.VideoFile,
			HLSMaster:   e.HLSMaster,
			Trailer:     e.Trailer,
			Thumbnail:   e.Thumbnail,
		})
	}
	return videos, nil
}
