package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/hive-api/internal/features"
	"github.com/Brownie44l1/hive-api/internal/model"
	"github.com/Brownie44l1/hive-api/internal/scratch"
)

type fakeModel struct {
	out   []float32
	err   error
	panic bool
	got   []float32
}

func (m *fakeModel) Predict(input []float32) ([]float32, error) {
	if m.panic {
		panic("runtime exploded")
	}
	m.got = append([]float32(nil), input...)
	return m.out, m.err
}

// fakeFeaturizer checks that the scratch file exists while it is being read.
type fakeFeaturizer struct {
	vec   features.FeatureVector
	err   error
	seen  string
	alive bool
}

func (f *fakeFeaturizer) Extract(_ context.Context, path string) (features.FeatureVector, error) {
	f.seen = path
	_, statErr := os.Stat(path)
	f.alive = statErr == nil
	return f.vec, f.err
}

type fakePreparer struct {
	tensor features.ImageTensor
	err    error
	seen   string
}

func (f *fakePreparer) Prepare(path string) (features.ImageTensor, error) {
	f.seen = path
	return f.tensor, f.err
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	require.NotEmpty(t, path)
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "scratch file %s still exists", path)
}

func newAudio(t *testing.T, feat *fakeFeaturizer, m *fakeModel) *Audio {
	logger, _ := test.NewNullLogger()
	return &Audio{
		Scratch:    scratch.New(t.TempDir()),
		Features:   feat,
		Classifier: AudioClassifier{Model: m},
		Log:        logger,
	}
}

func classMap(t *testing.T) *model.ClassMap {
	cm, err := model.NewClassMap(map[string]int{"healthy": 0, "varroa": 1, "queen_cell": 2})
	require.NoError(t, err)
	return cm
}

func TestAudioAnalyzeSuccess(t *testing.T) {
	var vec features.FeatureVector
	for i := range vec {
		vec[i] = float32(i)
	}
	feat := &fakeFeaturizer{vec: vec}
	m := &fakeModel{out: []float32{0.2, 0.8}}
	p := newAudio(t, feat, m)

	res, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.QueenStatus)
	assert.Equal(t, float32(0.8), res.Confidence)
	assert.Equal(t, vec.Slice(), m.got, "model must receive the 40 features as one row")
	assert.True(t, feat.alive, "extractor ran after the scratch file was removed")
	assertGone(t, feat.seen)
}

func TestAudioAnalyzeIsRepeatable(t *testing.T) {
	feat := &fakeFeaturizer{}
	p := newAudio(t, feat, &fakeModel{out: []float32{0.6, 0.4}})

	a, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	require.NoError(t, err)
	b, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAudioDecodeFailureReleases(t *testing.T) {
	feat := &fakeFeaturizer{err: errors.New("ffmpeg: invalid data found")}
	p := newAudio(t, feat, &fakeModel{out: []float32{1}})

	_, err := p.Analyze(context.Background(), "notes.txt", strings.NewReader("plain text"))
	require.Error(t, err)
	assert.Equal(t, KindMediaDecode, KindOf(err))
	assert.Contains(t, err.Error(), "invalid data found")
	assertGone(t, feat.seen)
}

func TestAudioInferenceFailureReleases(t *testing.T) {
	feat := &fakeFeaturizer{}
	p := newAudio(t, feat, &fakeModel{err: errors.New("shape mismatch")})

	_, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	assert.Equal(t, KindInference, KindOf(err))
	assertGone(t, feat.seen)
}

func TestAudioEmptyDistributionIsInferenceError(t *testing.T) {
	p := newAudio(t, &fakeFeaturizer{}, &fakeModel{out: nil})

	_, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	assert.Equal(t, KindInference, KindOf(err))
}

func TestAudioPanicStillReleases(t *testing.T) {
	feat := &fakeFeaturizer{}
	p := newAudio(t, feat, &fakeModel{panic: true})

	assert.Panics(t, func() {
		p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	})
	assertGone(t, feat.seen)
}

func TestAudioEmptyUpload(t *testing.T) {
	feat := &fakeFeaturizer{}
	p := newAudio(t, feat, &fakeModel{})

	_, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader(""))
	assert.Equal(t, KindMissingInput, KindOf(err))
	assert.Empty(t, feat.seen, "extractor should not run on an empty upload")
}

func TestImageAnalyzeSuccess(t *testing.T) {
	prep := &fakePreparer{tensor: features.ImageTensor{Height: 1, Width: 1, Channels: 3, Data: []float32{0.1, 0.2, 0.3}}}
	m := &fakeModel{out: []float32{0.1, 0.15, 0.75}}
	logger, _ := test.NewNullLogger()
	p := &Image{
		Scratch:    scratch.New(t.TempDir()),
		Preparer:   prep,
		Classifier: ImageClassifier{Model: m, Classes: classMap(t), Layout: model.LayoutNHWC},
		Log:        logger,
	}

	res, err := p.Analyze(context.Background(), "frame.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "queen_cell", res.ClassName)
	assert.Equal(t, float32(0.75), res.Confidence)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, m.got)
	assertGone(t, prep.seen)
}

func TestImageClassifierNCHW(t *testing.T) {
	m := &fakeModel{out: []float32{1, 0, 0}}
	c := ImageClassifier{Model: m, Classes: classMap(t), Layout: model.LayoutNCHW}

	tensor := features.ImageTensor{Height: 1, Width: 2, Channels: 3, Data: []float32{1, 2, 3, 4, 5, 6}}
	name, _, err := c.Classify(tensor)
	require.NoError(t, err)
	assert.Equal(t, "healthy", name)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, m.got)
}

func TestImageUnknownClassIndex(t *testing.T) {
	prep := &fakePreparer{}
	p := &Image{
		Scratch:  scratch.New(t.TempDir()),
		Preparer: prep,
		Classifier: ImageClassifier{
			Model:   &fakeModel{out: []float32{0, 0, 0, 0.9}},
			Classes: classMap(t),
		},
	}

	_, err := p.Analyze(context.Background(), "frame.jpg", strings.NewReader("jpeg"))
	assert.Equal(t, KindUnknownClassIndex, KindOf(err))
	assertGone(t, prep.seen)
}

func TestImageDecodeFailure(t *testing.T) {
	prep := &fakePreparer{err: errors.New("image: unknown format")}
	p := &Image{
		Scratch:    scratch.New(t.TempDir()),
		Preparer:   prep,
		Classifier: ImageClassifier{Model: &fakeModel{}, Classes: classMap(t)},
	}

	_, err := p.Analyze(context.Background(), "frame.jpg", strings.NewReader("not a jpeg"))
	assert.Equal(t, KindMediaDecode, KindOf(err))
	assertGone(t, prep.seen)
}

func TestImageOversizedIsMediaDecode(t *testing.T) {
	// PNG signature plus an IHDR declaring 30000x30000 8-bit gray
	ihdr := []byte("IHDR\x00\x00\x75\x30\x00\x00\x75\x30\x08\x00\x00\x00\x00")
	var body bytes.Buffer
	body.WriteString("\x89PNG\r\n\x1a\n\x00\x00\x00\x0d")
	body.Write(ihdr)
	binary.Write(&body, binary.BigEndian, crc32.ChecksumIEEE(ihdr))

	m := &fakeModel{}
	dir := t.TempDir()
	p := &Image{
		Scratch:    scratch.New(dir),
		Preparer:   features.ImagePreprocessor{},
		Classifier: ImageClassifier{Model: m, Classes: classMap(t)},
	}

	_, err := p.Analyze(context.Background(), "bomb.png", &body)
	assert.Equal(t, KindMediaDecode, KindOf(err))
	assert.ErrorIs(t, err, features.ErrImageTooLarge)
	assert.Nil(t, m.got, "model must not run")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReleaseFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	dir := t.TempDir()
	p := &Audio{
		Scratch: scratch.New(dir),
		// replace the scratch file with a non-empty directory so Remove fails
		Features: featurizerFunc(func(path string) error {
			if err := os.Remove(path); err != nil {
				return err
			}
			if err := os.MkdirAll(path+"/child", 0o755); err != nil {
				return err
			}
			return nil
		}),
		Classifier: AudioClassifier{Model: &fakeModel{out: []float32{1}}},
		Log:        logger,
	}

	_, err := p.Analyze(context.Background(), "hive.wav", strings.NewReader("RIFF"))
	require.NoError(t, err)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

type featurizerFunc func(path string) error

func (f featurizerFunc) Extract(_ context.Context, path string) (features.FeatureVector, error) {
	return features.FeatureVector{}, f(path)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	wrapped := errors.Join(errors.New("outer"), newError(KindInference, "op", errors.New("inner")))
	assert.Equal(t, KindInference, KindOf(wrapped))

	assert.Equal(t, "media_decode", KindMediaDecode.String())
	assert.Equal(t, "op: inner", newError(KindInference, "op", errors.New("inner")).Error())
}
