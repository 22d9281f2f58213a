package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Preprocessing describes how an image becomes the model's input tensor
type Preprocessing struct {
	Width         int
	Height        int
	Rescale       bool
	RescaleFactor float32
	Normalize     bool
	Mean          [3]float32
	Std           [3]float32
}

// DefaultPreprocessing matches ViT base models
func DefaultPreprocessing() Preprocessing {
	return Preprocessing{
		Width:         224,
		Height:        224,
		Rescale:       true,
		RescaleFactor: 1.0 / 255.0,
		Normalize:     true,
		Mean:          [3]float32{0.5, 0.5, 0.5},
		Std:           [3]float32{0.5, 0.5, 0.5},
	}
}

type preprocessorJSON struct {
	Size          json.RawMessage `json:"size"`
	DoRescale     *bool           `json:"do_rescale"`
	RescaleFactor *float64        `json:"rescale_factor"`
	DoNormalize   *bool           `json:"do_normalize"`
	ImageMean     []float32       `json:"image_mean"`
	ImageStd      []float32       `json:"image_std"`
}

type sizeJSON struct {
	Height       int `json:"height"`
	Width        int `json:"width"`
	ShortestEdge int `json:"shortest_edge"`
}

// ParsePreprocessing reads a preprocessor_config.json document. Missing
// fields keep their ViT defaults.
func ParsePreprocessing(data []byte) (Preprocessing, error) {
	p := DefaultPreprocessing()

	var raw preprocessorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return p, fmt.Errorf("invalid preprocessor config: %w", err)
	}

	if len(raw.Size) > 0 && string(raw.Size) != "null" {
		var edge int
		var size sizeJSON
		switch {
		case json.Unmarshal(raw.Size, &edge) == nil:
			p.Width, p.Height = edge, edge
		case json.Unmarshal(raw.Size, &size) == nil:
			if size.Width > 0 && size.Height > 0 {
				p.Width, p.Height = size.Width, size.Height
			} else if size.ShortestEdge > 0 {
				p.Width, p.Height = size.ShortestEdge, size.ShortestEdge
			}
		default:
			return p, fmt.Errorf("invalid size in preprocessor config: %s", raw.Size)
		}
	}
	if p.Width <= 0 || p.Height <= 0 {
		return p, fmt.Errorf("invalid input size %dx%d", p.Width, p.Height)
	}

	if raw.DoRescale != nil {
		p.Rescale = *raw.DoRescale
	}
	if raw.RescaleFactor != nil {
		p.RescaleFactor = float32(*raw.RescaleFactor)
	}
	if raw.DoNormalize != nil {
		p.Normalize = *raw.DoNormalize
	}
	if raw.ImageMean != nil {
		if len(raw.ImageMean) != 3 {
			return p, fmt.Errorf("image_mean must have 3 values, got %d", len(raw.ImageMean))
		}
		copy(p.Mean[:], raw.ImageMean)
	}
	if raw.ImageStd != nil {
		if len(raw.ImageStd) != 3 {
			return p, fmt.Errorf("image_std must have 3 values, got %d", len(raw.ImageStd))
		}
		for i, s := range raw.ImageStd {
			if s == 0 {
				return p, fmt.Errorf("image_std[%d] is zero", i)
			}
		}
		copy(p.Std[:], raw.ImageStd)
	}
	return p, nil
}

// ParseLabels reads id2label from a config.json document and returns the
// labels indexed by class id. Gaps are filled with LABEL_<id>.
func ParseLabels(data []byte) ([]string, error) {
	var raw struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	if len(raw.ID2Label) == 0 {
		return nil, fmt.Errorf("model config has no id2label mapping")
	}

	ids := make([]int, 0, len(raw.ID2Label))
	byID := make(map[int]string, len(raw.ID2Label))
	for key, label := range raw.ID2Label {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid class id %q in id2label", key)
		}
		ids = append(ids, id)
		byID[id] = label
	}
	sort.Ints(ids)

	labels := make([]string, ids[len(ids)-1]+1)
	for i := range labels {
		if label, ok := byID[i]; ok {
			labels[i] = label
		} else {
			labels[i] = "LABEL_" + strconv.Itoa(i)
		}
	}
	return labels, nil
}

func readModelConfig(files *Files) ([]string, Preprocessing, error) {
	cfgData, err := os.ReadFile(files.Config)
	if err != nil {
		return nil, Preprocessing{}, err
	}
	labels, err := ParseLabels(cfgData)
	if err != nil {
		return nil, Preprocessing{}, err
	}

	prepData, err := os.ReadFile(files.Preprocessor)
	if err != nil {
		return nil, Preprocessing{}, err
	}
	prep, err := ParsePreprocessing(prepData)
	if err != nil {
		return nil, Preprocessing{}, err
	}
	return labels, prep, nil
}
