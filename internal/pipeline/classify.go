package pipeline

import (
	"fmt"

	"github.com/Brownie44l1/hive-api/internal/features"
	"github.com/Brownie44l1/hive-api/internal/model"
)

// Predictor runs a model on one flattened input and returns its output
// distribution. *model.Session implements it.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
}

// AudioClassifier maps a FeatureVector to a queen-status index.
type AudioClassifier struct {
	Model Predictor
}

func (c AudioClassifier) Classify(vec features.FeatureVector) (int, float32, error) {
	dist, err := c.Model.Predict(vec.Slice())
	if err != nil {
		return 0, 0, newError(KindInference, "classify audio", err)
	}
	idx, conf, err := model.Top1(dist)
	if err != nil {
		return 0, 0, newError(KindInference, "classify audio", err)
	}
	return idx, conf, nil
}

// ImageClassifier maps an ImageTensor to a class name.
type ImageClassifier struct {
	Model   Predictor
	Classes *model.ClassMap
	Layout  string // model.LayoutNHWC or model.LayoutNCHW
}

func (c ImageClassifier) Classify(t features.ImageTensor) (string, float32, error) {
	input := t.Data
	if c.Layout == model.LayoutNCHW {
		input = t.CHW()
	}

	dist, err := c.Model.Predict(input)
	if err != nil {
		return "", 0, newError(KindInference, "classify image", err)
	}
	idx, conf, err := model.Top1(dist)
	if err != nil {
		return "", 0, newError(KindInference, "classify image", err)
	}

	name, ok := c.Classes.Name(idx)
	if !ok {
		return "", 0, newError(KindUnknownClassIndex, "classify image",
			fmt.Errorf("model predicted index %d which has no class name", idx))
	}
	return name, conf, nil
}
