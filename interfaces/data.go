package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomview/types"
)

// StudyService lists and manages stored studies
type StudyService interface {
	List(ctx context.Context) ([]types.Study, error)
	Get(ctx context.Context, studyUID string) (*types.StudyDetail, error)
	GetSeries(ctx context.Context, studyUID, seriesUID string) (*types.SeriesDetail, error)
	Delete(ctx context.Context, studyUID string) error
}

// ProgressFunc receives upload progress as an integer percentage 0-100
type ProgressFunc func(percent int)

// UploadService sends a batch of files to the backend
type UploadService interface {
	Upload(ctx context.Context, files []types.UploadFile, progress ProgressFunc) (*types.UploadResult, error)
}

// ImageLoader fetches the bytes behind an image reference URL
type ImageLoader interface {
	Load(ctx context.Context, url string) ([]byte, error)
}
