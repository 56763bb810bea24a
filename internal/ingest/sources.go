package ingest

import (
	"errors"

	"github.com/studybuddy/backend/internal/docstore"
	"github.com/studybuddy/backend/internal/media"
)

// MediaLectures adapts the media store to the coordinator's lecture
// lookup contract.
type MediaLectures struct {
	Store *media.Store
}

func (m MediaLectures) Lecture(id string) (Lecture, error) {
	video, err := m.Store.Video(id)
	if errors.Is(err, media.ErrNotFound) {
		return Lecture{}, ErrNotFound
	}
	if err != nil {
		return Lecture{}, err
	}
	return Lecture{
		ID:         video.VideoID,
		Title:      video.Title,
		Transcript: video.Transcript,
		Segments:   video.Segments,
	}, nil
}

func (m MediaLectures) LectureIDsForCourse(courseID string) ([]string, error) {
	videos, err := m.Store.ListVideos()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, video := range videos {
		if video.CourseID == courseID {
			ids = append(ids, video.VideoID)
		}
	}
	return ids, nil
}

// DocumentSlides adapts the document store to the coordinator's
// slide-description lookup contract.
type DocumentSlides struct {
	Store *docstore.Store
}

func (d DocumentSlides) DescriptionsPath(documentID string) (string, error) {
	path, err := d.Store.DescriptionsPath(documentID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", ErrNotFound
	}
	return path, err
}
