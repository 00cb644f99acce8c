package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/storage"
)

// ImageGenerator implements generation.Generator on top of the image model. Reference handles
// are loaded from the artifact store and sent inline; the produced image is stored and its
// handle returned.
type ImageGenerator struct {
	client Client
	store  storage.Store
	logger *slog.Logger
}

// NewImageGenerator creates an ImageGenerator. A nil logger discards output.
func NewImageGenerator(client Client, store storage.Store, logger *slog.Logger) *ImageGenerator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ImageGenerator{client: client, store: store, logger: logger}
}

// Generate implements generation.Generator.
func (g *ImageGenerator) Generate(ctx context.Context, req generation.Request) (generation.Handle, error) {
	refs := make([]Image, 0, len(req.References))
	for _, handle := range req.References {
		obj, err := g.store.Get(ctx, handle)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", generation.NewError(generation.CodeUnknown, fmt.Sprintf("reference %s no longer exists", handle), err)
			}
			return "", generation.Classify(fmt.Errorf("failed to load reference %s: %w", handle, err))
		}
		refs = append(refs, Image{MIMEType: obj.ContentType, Data: obj.Data})
	}

	imageReq := ImageRequest{Prompt: req.Prompt, References: refs}
	if v, ok := req.Params["temperature"]; ok {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return "", generation.NewError(generation.CodeUnknown, fmt.Sprintf("invalid temperature %q", v), err)
		}
		temp := float32(t)
		imageReq.Temperature = &temp
	}

	g.logger.Debug("generating image",
		"model", g.client.GetModel(TierImage), "references", len(refs), "stage", req.Params["stage"])

	img, err := g.client.GenerateImage(ctx, imageReq)
	if err != nil {
		return "", classifyAPIError(err)
	}

	handle, err := g.store.Put(ctx, img.Data, img.MIMEType)
	if err != nil {
		return "", generation.Classify(fmt.Errorf("failed to store generated image: %w", err))
	}
	return handle, nil
}
