package media

import (
	"context"
	"fmt"
	"strings"
)

// ImageSize is one of three fixed resolution tiers for cover generation.
type ImageSize string

const (
	SizeSmall  ImageSize = "small"
	SizeMedium ImageSize = "medium"
	SizeLarge  ImageSize = "large"
)

// AspectRatio is one of two fixed ratios for video generation.
type AspectRatio string

const (
	RatioLandscape AspectRatio = "16:9"
	RatioPortrait  AspectRatio = "9:16"
)

// Image is a generated inline image.
type Image struct {
	Data        []byte
	ContentType string
}

// VideoOperation is the polled state of a long-running video generation.
type VideoOperation struct {
	Name string
	Done bool
	// URI is set once Done; the video bytes are fetched from it separately.
	URI string
}

// Generator is the consumed surface of the generative media provider.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string, size ImageSize) (Image, error)
	StartVideo(ctx context.Context, prompt string, image Image, ratio AspectRatio) (string, error)
	PollVideo(ctx context.Context, name string) (VideoOperation, error)
	Download(ctx context.Context, uri string) ([]byte, string, error)
}

// ParseImageSize validates a size tier string.
func ParseImageSize(raw string) (ImageSize, error) {
	switch ImageSize(strings.ToLower(strings.TrimSpace(raw))) {
	case SizeSmall:
		return SizeSmall, nil
	case SizeMedium, "":
		return SizeMedium, nil
	case SizeLarge:
		return SizeLarge, nil
	default:
		return "", fmt.Errorf("invalid image size %q (want small, medium or large)", raw)
	}
}

// ParseAspectRatio validates an aspect ratio string.
func ParseAspectRatio(raw string) (AspectRatio, error) {
	switch AspectRatio(strings.TrimSpace(raw)) {
	case RatioLandscape, "":
		return RatioLandscape, nil
	case RatioPortrait:
		return RatioPortrait, nil
	default:
		return "", fmt.Errorf("invalid aspect ratio %q (want 16:9 or 9:16)", raw)
	}
}
