package edge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Edge function names.
const (
	FnOptimizeImageBatch = "optimize-image-batch"
	FnSignedURL          = "signed-url"
	FnGenerateAIAd       = "generate-ai-ad"
)

// DefaultBucket holds gallery images.
const DefaultBucket = "gallery-images"

// ErrNoSignedURL is returned when signed-url answers without a URL.
var ErrNoSignedURL = errors.New("signed-url returned no url")

// InvokeFunction POSTs body to /functions/v1/{name} and decodes the reply into out.
func (c *Client) InvokeFunction(ctx context.Context, name string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, "functions/v1/"+url.PathEscape(name), body, out, nil)
}

// OptimizeRequest asks the backend to recompress stored images.
type OptimizeRequest struct {
	FilePaths []string `json:"filePaths"`
	Bucket    string   `json:"bucket,omitempty"`
}

// OptimizeResult is the outcome for one path.
type OptimizeResult struct {
	Path      string  `json:"path"`
	Success   bool    `json:"success"`
	Reduction float64 `json:"reduction,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// OptimizeResponse is the optimize-image-batch reply.
type OptimizeResponse struct {
	Success   bool             `json:"success"`
	Processed int              `json:"processed"`
	Results   []OptimizeResult `json:"results"`
	Summary   struct {
		Successful   int     `json:"successful"`
		Failed       int     `json:"failed"`
		AvgReduction float64 `json:"avgReduction"`
	} `json:"summary"`
}

// OptimizeImageBatch runs optimize-image-batch for req.FilePaths.
func (c *Client) OptimizeImageBatch(ctx context.Context, req OptimizeRequest) (*OptimizeResponse, error) {
	if len(req.FilePaths) == 0 {
		return nil, errors.New("optimize-image-batch: no file paths")
	}
	if req.Bucket == "" {
		req.Bucket = DefaultBucket
	}

	var resp OptimizeResponse
	if err := c.InvokeFunction(ctx, FnOptimizeImageBatch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignedURLRequest asks for a time-limited URL to a stored image rendition.
type SignedURLRequest struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	Size      string `json:"size,omitempty"`
	ExpiresIn int    `json:"expiresIn"`
}

// SignedURL returns a signed download URL for req.Path.
func (c *Client) SignedURL(ctx context.Context, req SignedURLRequest) (string, error) {
	if req.Bucket == "" {
		req.Bucket = DefaultBucket
	}
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = 3600
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.InvokeFunction(ctx, FnSignedURL, req, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w for %s", ErrNoSignedURL, req.Path)
	}
	return resp.URL, nil
}

// AIAdRequest describes the ad copy to generate.
type AIAdRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Style       string `json:"style,omitempty"`
	Category    string `json:"category,omitempty"`
	Tier        string `json:"tier,omitempty"`
	UserID      string `json:"userId,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
}

// AIAdResponse is the generated copy.
type AIAdResponse struct {
	Success  bool   `json:"success"`
	AdCopy   string `json:"ad_copy"`
	Metadata struct {
		Tokens int    `json:"tokens"`
		FOMO   bool   `json:"fomo"`
		Tier   string `json:"tier"`
	} `json:"metadata"`
}

// GenerateAIAd runs generate-ai-ad. Title and description are required.
func (c *Client) GenerateAIAd(ctx context.Context, req AIAdRequest) (*AIAdResponse, error) {
	var missing []string
	if strings.TrimSpace(req.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(req.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("generate-ai-ad: %s required", strings.Join(missing, " and "))
	}

	var resp AIAdResponse
	if err := c.InvokeFunction(ctx, FnGenerateAIAd, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
