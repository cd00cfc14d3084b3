package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/opencoursehub/catalog/pkg/events"
)

// DeleteOrphanImages removes images not referenced by any course, program
// banner, or video thumbnail. Returns the number of deleted rows.
func (s *Store) DeleteOrphanImages() (int, error) {
	var orphans []Image
	err := s.db.Where(`
		id NOT IN (SELECT image_id FROM courses WHERE image_id IS NOT NULL)
		AND id NOT IN (SELECT banner_image_id FROM programs WHERE banner_image_id IS NOT NULL)
		AND id NOT IN (SELECT image_id FROM videos WHERE image_id IS NOT NULL)`).
		Find(&orphans).Error
	if err != nil {
		return 0, fmt.Errorf("list orphan images: %w", err)
	}

	for i := range orphans {
		if err := s.db.Delete(&orphans[i]).Error; err != nil {
			return i, fmt.Errorf("delete orphan image %d: %w", orphans[i].ID, err)
		}
		s.notify(KindImage, orphans[i].ID, events.ActionDeleted)
	}
	return len(orphans), nil
}

// DeleteOrphanVideos removes videos not referenced by any course run.
func (s *Store) DeleteOrphanVideos() (int, error) {
	var orphans []Video
	err := s.db.Where(
		"id NOT IN (SELECT video_id FROM course_runs WHERE video_id IS NOT NULL)").
		Find(&orphans).Error
	if err != nil {
		return 0, fmt.Errorf("list orphan videos: %w", err)
	}

	for i := range orphans {
		if err := s.db.Delete(&orphans[i]).Error; err != nil {
			return i, fmt.Errorf("delete orphan video %d: %w", orphans[i].ID, err)
		}
		s.notify(KindVideo, orphans[i].ID, events.ActionDeleted)
	}
	return len(orphans), nil
}

// GetOrCreateVideo resolves a video row by source URL, creating it when
// absent.
func (s *Store) GetOrCreateVideo(src string) (*Video, error) {
	var video Video
	err := s.db.Where("src = ?", src).First(&video).Error
	if err == nil {
		return &video, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get video %q: %w", src, err)
	}
	video = Video{Src: src}
	if err := s.db.Create(&video).Error; err != nil {
		return nil, fmt.Errorf("create video %q: %w", src, err)
	}
	s.notify(KindVideo, video.ID, events.ActionCreated)
	return &video, nil
}

// GetOrCreateImage resolves an image row by source URL, creating it when
// absent.
func (s *Store) GetOrCreateImage(src string, width, height int) (*Image, error) {
	var image Image
	err := s.db.Where("src = ?", src).First(&image).Error
	if err == nil {
		return &image, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get image %q: %w", src, err)
	}
	image = Image{Src: src, Width: width, Height: height}
	if err := s.db.Create(&image).Error; err != nil {
		return nil, fmt.Errorf("create image %q: %w", src, err)
	}
	s.notify(KindImage, image.ID, events.ActionCreated)
	return &image, nil
}
