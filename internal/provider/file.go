package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/pkg/schema"
)

// FileProvider reads diagrams from <base>/<id>.{json,yaml,yml,hcl}. The base
// is any afs URL: a local path, file://, mem://, s3://, gs:// ...
type FileProvider struct {
	baseURL string
	fs      afs.Service
	logger  *slog.Logger
}

// NewFileProvider creates a provider rooted at baseURL. A relative local path
// is resolved against the working directory.
func NewFileProvider(baseURL string, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.Contains(baseURL, "://") {
		if abs, err := filepath.Abs(baseURL); err == nil {
			baseURL = abs
		}
	}
	return &FileProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		fs:      afs.New(),
		logger:  logger,
	}
}

// BaseURL returns the directory diagrams are read from.
func (p *FileProvider) BaseURL() string { return p.baseURL }

// Load reads the first existing <id>.<ext>, trying Extensions in order.
func (p *FileProvider) Load(ctx context.Context, id string) (*schema.Diagram, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	for _, ext := range Extensions {
		fileURL := url.Join(p.baseURL, id+ext)
		exists, err := p.fs.Exists(ctx, fileURL)
		if err != nil {
			return nil, fmt.Errorf("check diagram %s: %w", fileURL, err)
		}
		if !exists {
			continue
		}
		return p.read(ctx, fileURL, id)
	}
	return nil, notFound("diagram %q not found in %s", id, p.baseURL)
}

// LoadByTrigger scans the base directory for a diagram with the trigger
// code. Files that fail to decode are skipped with a warning.
func (p *FileProvider) LoadByTrigger(ctx context.Context, code string) (*schema.Diagram, error) {
	objects, err := p.fs.List(ctx, p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("list diagrams in %s: %w", p.baseURL, err)
	}
	for _, obj := range objects {
		if obj.IsDir() || !supported(obj.Name()) {
			continue
		}
		id := strings.TrimSuffix(obj.Name(), path.Ext(obj.Name()))
		d, err := p.read(ctx, obj.URL(), id)
		if err != nil {
			p.logger.WarnContext(ctx, "skipping unreadable diagram",
				slog.String("url", obj.URL()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d.TriggerCode == code {
			return d, nil
		}
	}
	return nil, notFound("no diagram for trigger code %q", code)
}

// List returns the ids of every supported diagram file under the base URL.
func (p *FileProvider) List(ctx context.Context) ([]string, error) {
	objects, err := p.fs.List(ctx, p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("list diagrams in %s: %w", p.baseURL, err)
	}
	var ids []string
	seen := make(map[string]bool)
	for _, obj := range objects {
		if obj.IsDir() || !supported(obj.Name()) {
			continue
		}
		id := strings.TrimSuffix(obj.Name(), path.Ext(obj.Name()))
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *FileProvider) read(ctx context.Context, fileURL, id string) (*schema.Diagram, error) {
	data, err := p.fs.DownloadWithURL(ctx, fileURL)
	if err != nil {
		return nil, fmt.Errorf("read diagram %s: %w", fileURL, err)
	}
	d, err := Decode(fileURL, data)
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = id
	}
	return d, nil
}

func supported(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid diagram id %q", id)
	}
	return nil
}

var (
	_ Provider               = (*FileProvider)(nil)
	_ engine.DiagramProvider = (*FileProvider)(nil)
)
