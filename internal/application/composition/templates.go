package composition

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Templates are the two fixed poster images.
type Templates struct {
	Background image.Image
	Layer      image.Image // foreground with a transparent window for the subject
}

// TemplateLoader supplies the poster templates.
type TemplateLoader interface {
	Load(ctx context.Context) (*Templates, error)
}

// FileTemplates loads templates from disk once and caches them. A failed
// load is not cached, so fixing the files recovers without a restart.
type FileTemplates struct {
	BackgroundPath string
	LayerPath      string

	mu     sync.Mutex
	cached *Templates
}

func NewFileTemplates(backgroundPath, layerPath string) *FileTemplates {
	return &FileTemplates{BackgroundPath: backgroundPath, LayerPath: layerPath}
}

func (f *FileTemplates) Load(ctx context.Context) (*Templates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil {
		return f.cached, nil
	}

	var t Templates
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		t.Background, err = decodeFile(f.BackgroundPath)
		return err
	})
	g.Go(func() (err error) {
		t.Layer, err = decodeFile(f.LayerPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	f.cached = &t
	return f.cached, nil
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", path, err)
	}
	return img, nil
}
