package features

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Decoder shells out to ffmpeg to turn any audio container into mono float32
// PCM at SampleRate.
type Decoder struct {
	FFmpegPath string
}

func (d Decoder) binary() string {
	if d.FFmpegPath == "" {
		return "ffmpeg"
	}
	return d.FFmpegPath
}

// Decode returns the samples of the file at path.
func (d Decoder) Decode(ctx context.Context, path string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, d.binary(),
		"-nostdin",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-loglevel", "error",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	out = out[:len(out)-len(out)%4]
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, ErrNoSamples)
	}

	samples := make([]float32, len(out)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(out[i*4:]))
	}
	return samples, nil
}

// AudioExtractor turns an audio file into its FeatureVector.
type AudioExtractor struct {
	Decoder Decoder
}

func (e AudioExtractor) Extract(ctx context.Context, path string) (FeatureVector, error) {
	samples, err := e.Decoder.Decode(ctx, path)
	if err != nil {
		return FeatureVector{}, err
	}
	return MFCC(samples)
}
