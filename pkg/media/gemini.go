package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultImageModel    = "imagen-3.0-generate-002"
	defaultVideoModel    = "veo-2.0-generate-001"
)

var imageSizePixels = map[ImageSize]string{
	SizeSmall:  "512",
	SizeMedium: "1024",
	SizeLarge:  "2048",
}

// GeminiClient calls the Google AI Studio generative media API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
}

// GeminiOption customizes the client.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithModels overrides the image and video model names.
func WithModels(imageModel, videoModel string) GeminiOption {
	return func(c *GeminiClient) {
		if imageModel != "" {
			c.imageModel = imageModel
		}
		if videoModel != "" {
			c.videoModel = videoModel
		}
	}
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey string, options ...GeminiOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("media api key required")
	}
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		imageModel: defaultImageModel,
		videoModel: defaultVideoModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

// GenerateImage returns one generated image for the prompt at the given tier.
func (c *GeminiClient) GenerateImage(ctx context.Context, prompt string, size ImageSize) (Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Image{}, fmt.Errorf("prompt required")
	}
	pixels, ok := imageSizePixels[size]
	if !ok {
		pixels = imageSizePixels[SizeMedium]
	}
	reqBody := predictRequest{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: &predictParameters{
			SampleCount:     1,
			SampleImageSize: pixels,
		},
	}
	var resp predictResponse
	endpoint := fmt.Sprintf("%s/models/%s:predict?key=%s", c.baseURL, c.imageModel, url.QueryEscape(c.apiKey))
	if err := c.doJSON(ctx, endpoint, reqBody, &resp); err != nil {
		return Image{}, err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return Image{}, fmt.Errorf("empty image response")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	contentType := resp.Predictions[0].MimeType
	if contentType == "" {
		contentType = "image/png"
	}
	return Image{Data: data, ContentType: contentType}, nil
}

// StartVideo submits a long-running video generation and returns the
// operation name to poll.
func (c *GeminiClient) StartVideo(ctx context.Context, prompt string, image Image, ratio AspectRatio) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt required")
	}
	instance := predictInstance{Prompt: prompt}
	if len(image.Data) > 0 {
		instance.Image = &inlineImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(image.Data),
			MimeType:           image.ContentType,
		}
	}
	reqBody := predictRequest{
		Instances: []predictInstance{instance},
		Parameters: &predictParameters{
			AspectRatio: string(ratio),
		},
	}
	var resp operationResponse
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning?key=%s", c.baseURL, c.videoModel, url.QueryEscape(c.apiKey))
	if err := c.doJSON(ctx, endpoint, reqBody, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", fmt.Errorf("empty operation name")
	}
	return resp.Name, nil
}

// PollVideo fetches the current state of a video generation operation.
func (c *GeminiClient) PollVideo(ctx context.Context, name string) (VideoOperation, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return VideoOperation{}, fmt.Errorf("operation name required")
	}
	endpoint := fmt.Sprintf("%s/%s?key=%s", c.baseURL, name, url.QueryEscape(c.apiKey))
	var resp operationResponse
	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return VideoOperation{}, err
	}
	if resp.Error.Message != "" {
		return VideoOperation{}, fmt.Errorf("video generation failed: %s", resp.Error.Message)
	}
	op := VideoOperation{Name: name, Done: resp.Done}
	if resp.Done {
		samples := resp.Response.GenerateVideoResponse.GeneratedSamples
		if len(samples) == 0 || samples[0].Video.URI == "" {
			return VideoOperation{}, fmt.Errorf("operation finished without a video")
		}
		op.URI = samples[0].Video.URI
	}
	return op, nil
}

// Download fetches generated media bytes from a result URI.
func (c *GeminiClient) Download(ctx context.Context, uri string) ([]byte, string, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, "", fmt.Errorf("download uri required")
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+sep+"key="+url.QueryEscape(c.apiKey), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("media download error: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}

func (c *GeminiClient) doJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *GeminiClient) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *GeminiClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("media api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("media api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type predictInstance struct {
	Prompt string       `json:"prompt"`
	Image  *inlineImage `json:"image,omitempty"`
}

type inlineImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

type predictParameters struct {
	SampleCount     int    `json:"sampleCount,omitempty"`
	SampleImageSize string `json:"sampleImageSize,omitempty"`
	AspectRatio     string `json:"aspectRatio,omitempty"`
}

type predictRequest struct {
	Instances  []predictInstance  `json:"instances"`
	Parameters *predictParameters `json:"parameters,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
