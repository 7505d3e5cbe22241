package features

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// MFCC parameters. They follow librosa's defaults so vectors match what the
// audio model was trained on.
const (
	SampleRate      = 22050
	NumCoefficients = 40
	FFTSize         = 2048
	HopLength       = 512
	NumMels         = 128

	topDB = 80.0
	amin  = 1e-10
)

var ErrNoSamples = errors.New("audio stream contains no samples")

// FeatureVector is the per-coefficient mean of the MFCCs over all frames.
type FeatureVector [NumCoefficients]float32

// Slice returns the vector as a model input row.
func (v FeatureVector) Slice() []float32 {
	out := make([]float32, NumCoefficients)
	copy(out, v[:])
	return out
}

type mfccPlan struct {
	window []float64
	melFB  [][]float64 // NumMels x (FFTSize/2+1)
	dct    [][]float64 // NumCoefficients x NumMels
}

var plan = sync.OnceValue(func() *mfccPlan {
	return &mfccPlan{
		window: hannWindow(FFTSize),
		melFB:  melFilterBank(SampleRate, FFTSize, NumMels),
		dct:    dctMatrix(NumCoefficients, NumMels),
	}
})

// MFCC computes the time-averaged mel-frequency cepstral coefficients of mono
// samples recorded at SampleRate.
func MFCC(samples []float32) (FeatureVector, error) {
	var vec FeatureVector
	if len(samples) == 0 {
		return vec, ErrNoSamples
	}
	p := plan()
	logMel, nFrames := logMelSpectrogram(p, samples)

	sum := make([]float64, NumCoefficients)
	for f := 0; f < nFrames; f++ {
		row := logMel[f*NumMels : (f+1)*NumMels]
		for k, basis := range p.dct {
			sum[k] += floats.Dot(basis, row)
		}
	}
	floats.Scale(1/float64(nFrames), sum)

	for k, v := range sum {
		vec[k] = float32(v)
	}
	return vec, nil
}

// logMelSpectrogram returns the frame-major log-mel power spectrogram in dB,
// clamped to topDB below its peak, and the number of frames.
func logMelSpectrogram(p *mfccPlan, samples []float32) ([]float64, int) {
	// centred frames: pad FFTSize/2 zeros on both sides
	padded := make([]float64, len(samples)+FFTSize)
	for i, s := range samples {
		padded[FFTSize/2+i] = float64(s)
	}
	nFrames := 1 + (len(padded)-FFTSize)/HopLength

	fft := fourier.NewFFT(FFTSize)
	frame := make([]float64, FFTSize)
	power := make([]float64, FFTSize/2+1)
	var coeffs []complex128

	logMel := make([]float64, nFrames*NumMels)
	for f := 0; f < nFrames; f++ {
		start := f * HopLength
		for i := range frame {
			frame[i] = padded[start+i] * p.window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		row := logMel[f*NumMels : (f+1)*NumMels]
		for m, filter := range p.melFB {
			row[m] = 10 * math.Log10(math.Max(amin, floats.Dot(filter, power)))
		}
	}

	floor := floats.Max(logMel) - topDB
	for i, v := range logMel {
		if v < floor {
			logMel[i] = floor
		}
	}
	return logMel, nFrames
}

// hannWindow is the periodic Hann window used for spectral analysis.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSP       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSP
)

var melLogStep = math.Log(6.4) / 27

func hzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSP
}

func melToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return melFSP * mel
}

// melFilterBank builds triangular filters spanning 0..sr/2 with Slaney area
// normalisation.
func melFilterBank(sr, nFFT, nMels int) [][]float64 {
	nBins := nFFT/2 + 1
	fftFreqs := make([]float64, nBins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sr) / float64(nFFT)
	}

	maxMel := hzToMel(float64(sr) / 2)
	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = melToHz(maxMel * float64(i) / float64(nMels+1))
	}

	bank := make([][]float64, nMels)
	for m := range bank {
		lo, mid, hi := melF[m], melF[m+1], melF[m+2]
		enorm := 2 / (hi - lo)
		row := make([]float64, nBins)
		for k, f := range fftFreqs {
			lower := (f - lo) / (mid - lo)
			upper := (hi - f) / (hi - mid)
			row[k] = math.Max(0, math.Min(lower, upper)) * enorm
		}
		bank[m] = row
	}
	return bank
}

// dctMatrix is the orthonormal DCT-II basis truncated to nOut rows.
func dctMatrix(nOut, n int) [][]float64 {
	m := make([][]float64, nOut)
	for k := range m {
		scale := math.Sqrt(2 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1 / float64(n))
		}
		row := make([]float64, n)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		m[k] = row
	}
	return m
}
