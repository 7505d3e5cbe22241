// Package app loads the models and class map once at startup and assembles
// the two pipelines that share them.
package app

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/hive-api/internal/config"
	"github.com/Brownie44l1/hive-api/internal/features"
	"github.com/Brownie44l1/hive-api/internal/handlers"
	"github.com/Brownie44l1/hive-api/internal/model"
	"github.com/Brownie44l1/hive-api/internal/pipeline"
	"github.com/Brownie44l1/hive-api/internal/scratch"
)

type App struct {
	Audio   *pipeline.Audio
	Image   *pipeline.Image
	Classes *model.ClassMap

	audioSession *model.Session
	imageSession *model.Session
	log          logrus.FieldLogger
}

// CheckAudioMetadata verifies the audio model consumes one MFCC vector.
func CheckAudioMetadata(meta model.Metadata) error {
	if meta.InputSize() != features.NumCoefficients {
		return fmt.Errorf("audio model expects %d inputs %v, features produce %d", meta.InputSize(), meta.InputShape, features.NumCoefficients)
	}
	return nil
}

// CheckImageMetadata verifies the image model consumes one 300x300 RGB tensor
// and that every output index has a class name.
func CheckImageMetadata(meta model.Metadata, classes *model.ClassMap) error {
	want := features.ImageSize * features.ImageSize * features.ImageChannels
	if meta.InputSize() != want {
		return fmt.Errorf("image model expects %d inputs %v, preprocessing produces %d", meta.InputSize(), meta.InputShape, want)
	}
	return classes.Covers(meta.NumClasses())
}

// New loads everything the pipelines need. Any error here should abort startup.
func New(cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	ffmpeg, err := exec.LookPath(cfg.Audio.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found at %q: %w", cfg.Audio.FFmpegPath, err)
	}

	audioMeta, err := model.LoadMetadata(cfg.Audio.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("audio model: %w", err)
	}
	if err := CheckAudioMetadata(audioMeta); err != nil {
		return nil, err
	}

	imageMeta, err := model.LoadMetadata(cfg.Image.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("image model: %w", err)
	}
	classes, err := model.LoadClassMap(cfg.Image.ClassMapPath)
	if err != nil {
		return nil, err
	}
	if err := CheckImageMetadata(imageMeta, classes); err != nil {
		return nil, err
	}

	if err := model.InitEnvironment(cfg.ONNX.LibraryPath); err != nil {
		return nil, err
	}

	log.WithField("path", cfg.Audio.ModelPath).Info("loading audio model")
	audioSession, err := model.NewSession("audio", cfg.Audio.ModelPath, audioMeta)
	if err != nil {
		model.DestroyEnvironment()
		return nil, err
	}

	log.WithField("path", cfg.Image.ModelPath).Info("loading image model")
	imageSession, err := model.NewSession("image", cfg.Image.ModelPath, imageMeta)
	if err != nil {
		audioSession.Close()
		model.DestroyEnvironment()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"audio_input":  audioMeta.InputShape,
		"audio_output": audioMeta.OutputShape,
		"image_input":  imageMeta.InputShape,
		"image_output": imageMeta.OutputShape,
		"image_layout": imageMeta.Layout,
		"classes":      classes.Len(),
	}).Info("models loaded")

	store := scratch.New(cfg.Scratch.Dir)
	return &App{
		Audio: &pipeline.Audio{
			Scratch:    store,
			Features:   features.AudioExtractor{Decoder: features.Decoder{FFmpegPath: ffmpeg}},
			Classifier: pipeline.AudioClassifier{Model: audioSession},
			Log:        log,
		},
		Image: &pipeline.Image{
			Scratch:    store,
			Preparer:   features.ImagePreprocessor{Interpolation: cfg.Image.Interpolation},
			Classifier: pipeline.ImageClassifier{Model: imageSession, Classes: classes, Layout: imageMeta.Layout},
			Log:        log,
		},
		Classes:      classes,
		audioSession: audioSession,
		imageSession: imageSession,
		log:          log,
	}, nil
}

// Info summarises the loaded models for the health endpoint.
func (a *App) Info(cfg *config.Config) handlers.Info {
	return handlers.Info{
		AudioModel: filepath.Base(cfg.Audio.ModelPath),
		ImageModel: filepath.Base(cfg.Image.ModelPath),
		Classes:    a.Classes.Names(),
	}
}

func (a *App) Close() {
	a.audioSession.Close()
	a.imageSession.Close()
	if err := model.DestroyEnvironment(); err != nil {
		a.log.WithError(err).Warn("failed to destroy ONNX environment")
	}
}
