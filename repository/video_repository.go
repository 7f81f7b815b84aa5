package repository

import (
	"context"
	"errors"
	"fmt"

	"videoflix/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Artifacts are the media-root-relative references written after a pipeline
// run. Empty fields clear the stored reference.
type Artifacts struct {
	HLSMaster string
	Trailer   string
	Thumbnail string
}

// VideoRepository 视频数据访问接口
type VideoRepository interface {
	Create(ctx context.Context, video *model.Video) error
	GetByID(ctx context.Context, id uint) (*model.Video, error)
	GetByVideoFile(ctx context.Context, videoFile string) (*model.Video, error)
	List(ctx context.Context) ([]*model.Video, error)

	// UpdateArtifacts replaces all three artifact references in one
	// transaction while holding the row lock.
	UpdateArtifacts(ctx context.Context, id uint, artifacts Artifacts) error
	UpdateThumbnail(ctx context.Context, id uint, thumbnail string) error

	// Delete removes the row and returns it so callers can clean up files.
	Delete(ctx context.Context, id uint) (*model.Video, error)
}

// gormVideoRepository GORM 实现
type gormVideoRepository struct {
	db *gorm.DB
}

// NewGormVideoRepository 创建 GORM 视频仓库
func NewGormVideoRepository(db *gorm.DB) VideoRepository {
	return &gormVideoRepository{db: db}
}

// Create 创建视频记录
func (r *gormVideoRepository) Create(ctx context.Context, video *model.Video) error {
	if video.Category == "" {
		video.Category = model.DefaultCategory
	}
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateTitle
		}
		return fmt.Errorf("create video: %w", err)
	}
	return nil
}

// GetByID 根据ID获取视频
func (r *gormVideoRepository) GetByID(ctx context.Context, id uint) (*model.Video, error) {
	var video model.Video
	if err := r.db.WithContext(ctx).First(&video, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video %d: %w", id, err)
	}
	return &video, nil
}

// GetByVideoFile 根据原始文件路径获取视频
func (r *gormVideoRepository) GetByVideoFile(ctx context.Context, videoFile string) (*model.Video, error) {
	var video model.Video
	err := r.db.WithContext(ctx).
		Where("video_file = ?", videoFile).
		First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video by file %s: %w", videoFile, err)
	}
	return &video, nil
}

// List 按创建时间倒序列出视频
func (r *gormVideoRepository) List(ctx context.Context) ([]*model.Video, error) {
	var videos []*model.Video
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

func (r *gormVideoRepository) lockVideo(tx *gorm.DB, id uint) (*model.Video, error) {
	var video model.Video
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&video, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	return &video, nil
}

// UpdateArtifacts 在事务中更新播放列表、预告片和缩略图路径
func (r *gormVideoRepository) UpdateArtifacts(ctx context.Context, id uint, artifacts Artifacts) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		video, err := r.lockVideo(tx, id)
		if err != nil {
			return err
		}
		return tx.Model(video).Updates(map[string]interface{}{
			"hls_master": artifacts.HLSMaster,
			"trailer":    artifacts.Trailer,
			"thumbnail":  artifacts.Thumbnail,
		}).Error
	})
}

// UpdateThumbnail 只更新缩略图路径
func (r *gormVideoRepository) UpdateThumbnail(ctx context.Context, id uint, thumbnail string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		video, err := r.lockVideo(tx, id)
		if err != nil {
			return err
		}
		return tx.Model(video).Update("thumbnail", thumbnail).Error
	})
}

// Delete 删除视频记录
func (r *gormVideoRepository) Delete(ctx context.Context, id uint) (*model.Video, error) {
	var deleted *model.Video
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		video, err := r.lockVideo(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&model.Video{}, id).Error; err != nil {
			return err
		}
		deleted = video
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
