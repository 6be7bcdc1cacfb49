package cms

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"easel/internal/config"
	"easel/internal/logging"
	"easel/internal/services"
	"easel/internal/services/imagegen"
)

// Slots an article document exposes for generated images, in positional
// order. Files that match no filename rule fall back to the next free slot.
var slotOrder = []string{"heroImage", "sectionImage1", "sectionImage2", "sectionImage3"}

// API is the subset of the CMS client the integrator needs.
type API interface {
	UploadAsset(ctx context.Context, path string) (string, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	PatchDocument(ctx context.Context, id string, set map[string]any) error
}

// Result summarizes one integration run.
type Result struct {
	Uploaded map[string]string `json:"uploaded"`
	Skipped  []string          `json:"skipped,omitempty"`
}

// Integrator attaches generated images to article documents.
type Integrator interface {
	IntegrateImages(ctx context.Context, outputDir, documentID string) (*Result, error)
	Enabled() bool
}

type integrator struct {
	api    API
	logger *slog.Logger
}

// NewIntegrator builds an integrator from configuration. When cms.base_url
// is empty the CMS is treated as disabled and a no-op integrator is
// returned, so generation-only deployments work without a CMS.
func NewIntegrator(cfg *config.Config, logger *slog.Logger) (Integrator, error) {
	if strings.TrimSpace(cfg.CMS.BaseURL) == "" {
		return noopIntegrator{logger: logging.NewComponentLogger(logger, "cms")}, nil
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewIntegratorWith(client, logger), nil
}

// NewIntegratorWith builds an integrator around an existing API client.
func NewIntegratorWith(api API, logger *slog.Logger) Integrator {
	return &integrator{api: api, logger: logging.NewComponentLogger(logger, "cms")}
}

func (i *integrator) Enabled() bool { return true }

// IntegrateImages uploads the images found in outputDir and patches the
// article document with asset references. Slots that already reference an
// asset are left untouched, which makes the operation safe to retry.
func (i *integrator) IntegrateImages(ctx context.Context, outputDir, documentID string) (*Result, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, services.Wrap(services.ErrValidation, "cms", "integrate", "document id required", nil)
	}
	images, err := imagegen.EnumerateImages(outputDir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, services.Wrap(services.ErrValidation, "cms", "integrate",
			fmt.Sprintf("no images found in %s", outputDir), nil)
	}

	doc, err := i.api.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	logger := i.logger
	if id, ok := services.JobIDFromContext(ctx); ok {
		logger = logger.With(logging.String(logging.FieldJobID, id))
	}

	assignments := assignSlots(images)
	result := &Result{Uploaded: map[string]string{}}
	set := map[string]any{}
	for _, slot := range slotOrder {
		path, ok := assignments[slot]
		if !ok {
			continue
		}
		if ref := doc.AssetRef(slot); ref != "" {
			logger.Info("slot already populated, skipping",
				logging.String("slot", slot),
				logging.String("asset_id", ref))
			result.Skipped = append(result.Skipped, slot)
			continue
		}
		assetID, err := i.api.UploadAsset(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Info("uploaded image",
			logging.String("slot", slot),
			logging.String("file", filepath.Base(path)),
			logging.String("asset_id", assetID))
		result.Uploaded[slot] = assetID
		set[slot] = map[string]any{
			"_type": "image",
			"asset": map[string]any{"_type": "reference", "_ref": assetID},
		}
	}

	if len(set) == 0 {
		logger.Info("all slots already populated", logging.String("document_id", documentID))
		return result, nil
	}
	if err := i.api.PatchDocument(ctx, documentID, set); err != nil {
		return nil, err
	}
	logger.Info("article document updated",
		logging.String("document_id", documentID),
		logging.Int("slots", len(set)))
	return result, nil
}

// assignSlots maps image files onto document slots. A file whose base name
// starts with a slot's filename prefix claims that slot; unmatched files
// fill remaining slots in positional order. Extra files are ignored.
func assignSlots(images []string) map[string]string {
	prefixes := map[string]string{
		"hero":     "heroImage",
		"section1": "sectionImage1",
		"section2": "sectionImage2",
		"section3": "sectionImage3",
	}
	assigned := map[string]string{}
	var unmatched []string
	for _, path := range images {
		base := strings.ToLower(filepath.Base(path))
		slot := ""
		for prefix, name := range prefixes {
			if strings.HasPrefix(base, prefix) {
				slot = name
				break
			}
		}
		if slot == "" || assigned[slot] != "" {
			unmatched = append(unmatched, path)
			continue
		}
		assigned[slot] = path
	}
	for _, path := range unmatched {
		for _, slot := range slotOrder {
			if assigned[slot] == "" {
				assigned[slot] = path
				break
			}
		}
	}
	return assigned
}

type noopIntegrator struct {
	logger *slog.Logger
}

func (n noopIntegrator) Enabled() bool { return false }

func (n noopIntegrator) IntegrateImages(ctx context.Context, outputDir, documentID string) (*Result, error) {
	n.logger.Info("cms not configured, skipping integration",
		logging.String("document_id", documentID))
	return &Result{Uploaded: map[string]string{}}, nil
}
