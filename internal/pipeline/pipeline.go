package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/hive-api/internal/features"
	"github.com/Brownie44l1/hive-api/internal/scratch"
)

type AudioFeaturizer interface {
	Extract(ctx context.Context, path string) (features.FeatureVector, error)
}

type ImagePreparer interface {
	Prepare(path string) (features.ImageTensor, error)
}

type AudioResult struct {
	QueenStatus int     `json:"queen_status"`
	Confidence  float32 `json:"confidence"`
}

type ImageResult struct {
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"`
}

// Audio is the upload -> MFCC -> queen status pipeline.
type Audio struct {
	Scratch    *scratch.Store
	Features   AudioFeaturizer
	Classifier AudioClassifier
	Log        logrus.FieldLogger
}

// AnalyzeFile classifies an audio file already on disk.
func (a *Audio) AnalyzeFile(ctx context.Context, path string) (*AudioResult, error) {
	vec, err := a.Features.Extract(ctx, path)
	if err != nil {
		return nil, newError(KindMediaDecode, "extract audio features", err)
	}
	idx, conf, err := a.Classifier.Classify(vec)
	if err != nil {
		return nil, err
	}
	return &AudioResult{QueenStatus: idx, Confidence: conf}, nil
}

// Analyze stores the upload, classifies it and removes it again.
func (a *Audio) Analyze(ctx context.Context, filename string, r io.Reader) (*AudioResult, error) {
	return withScratch(a.Scratch, a.Log, filename, r, func(path string) (*AudioResult, error) {
		return a.AnalyzeFile(ctx, path)
	})
}

// Image is the upload -> 300x300 tensor -> class name pipeline.
type Image struct {
	Scratch    *scratch.Store
	Preparer   ImagePreparer
	Classifier ImageClassifier
	Log        logrus.FieldLogger
}

func (p *Image) AnalyzeFile(_ context.Context, path string) (*ImageResult, error) {
	tensor, err := p.Preparer.Prepare(path)
	if err != nil {
		return nil, newError(KindMediaDecode, "prepare image", err)
	}
	name, conf, err := p.Classifier.Classify(tensor)
	if err != nil {
		return nil, err
	}
	return &ImageResult{ClassName: name, Confidence: conf}, nil
}

func (p *Image) Analyze(ctx context.Context, filename string, r io.Reader) (*ImageResult, error) {
	return withScratch(p.Scratch, p.Log, filename, r, func(path string) (*ImageResult, error) {
		return p.AnalyzeFile(ctx, path)
	})
}

// withScratch saves r, runs fn on the saved path and releases the path on
// every return, panics included.
func withScratch[T any](store *scratch.Store, log logrus.FieldLogger, filename string, r io.Reader, fn func(path string) (T, error)) (T, error) {
	var zero T

	path, err := store.Save(filename, r)
	if err != nil {
		if errors.Is(err, scratch.ErrEmptyPayload) {
			return zero, newError(KindMissingInput, "store upload", err)
		}
		return zero, newError(KindUnknown, "store upload", err)
	}
	defer func() {
		if err := store.Release(path); err != nil && log != nil {
			log.WithError(err).WithField("path", path).Error("failed to release scratch file")
		}
	}()

	return fn(path)
}
