package llm

import (
	"context"
	"sync"
)

type fakeClient struct {
	mu       sync.Mutex
	json     string
	jsonErr  error
	image    Image
	imageErr error
	prompts  []string
	imageReq []ImageRequest
}

func (f *fakeClient) GenerateJSON(_ context.Context, prompt string, _ ModelTier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.json, f.jsonErr
}

func (f *fakeClient) GenerateImage(_ context.Context, req ImageRequest) (Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageReq = append(f.imageReq, req)
	return f.image, f.imageErr
}

func (f *fakeClient) GetModel(tier ModelTier) string {
	return DefaultConfig().GetModel(tier)
}

func (f *fakeClient) Close() error { return nil }
