package businessflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"go.uber.org/zap"
)

// ElementConfigFlow maintains the element placement tables
type ElementConfigFlow interface {
	Upsert(ctx context.Context, req *dto.UpsertElementConfigRequest) (*dto.ElementConfigItem, error)
	ListByDesign(ctx context.Context, design string) (*dto.ListElementConfigsResponse, error)
	// ImportTOML applies a seed file of [[element]] tables in one transaction.
	ImportTOML(ctx context.Context, r io.Reader) (*dto.ImportElementConfigsResponse, error)
}

type ElementConfigFlowImpl struct {
	tx         repository.Transactor
	configRepo repository.ElementConfigRepository
	placement  PlacementFlow
	logger     *zap.Logger
}

func NewElementConfigFlow(
	tx repository.Transactor,
	configRepo repository.ElementConfigRepository,
	placementFlow PlacementFlow,
	logger *zap.Logger,
) ElementConfigFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElementConfigFlowImpl{tx: tx, configRepo: configRepo, placement: placementFlow, logger: logger}
}

type elementSeedFile struct {
	Element []dto.UpsertElementConfigRequest `toml:"element"`
}

// buildElementConfig validates req and turns it into an active row
func buildElementConfig(req *dto.UpsertElementConfigRequest) (*models.ElementConfig, error) {
	t, err := models.ParseElementType(req.ElementType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElementConfig, err)
	}
	design := models.NormalizeDesign(req.Design)
	if design == "" {
		return nil, fmt.Errorf("%w: design is required", ErrInvalidElementConfig)
	}
	switch {
	case t.ArrayLevel() && req.Position != models.ArrayLevelPosition:
		return nil, fmt.Errorf("%w: %s is an array element and must use position 0", ErrInvalidElementConfig, t)
	case !t.ArrayLevel() && (req.Position < 1 || req.Position > 8):
		return nil, fmt.Errorf("%w: %s needs a slot position between 1 and 8", ErrInvalidElementConfig, t)
	}
	if req.OriginX < 0 || req.OriginY < 0 {
		return nil, fmt.Errorf("%w: origin must not be negative", ErrInvalidElementConfig)
	}
	if req.TextHeight != nil && *req.TextHeight <= 0 {
		return nil, fmt.Errorf("%w: text height must be positive", ErrInvalidElementConfig)
	}

	var rev *string
	if req.Revision != nil {
		rev = revisionPtr(*req.Revision)
	}
	return &models.ElementConfig{
		Design:      design,
		Revision:    rev,
		Position:    req.Position,
		ElementType: t,
		OriginX:     req.OriginX,
		OriginY:     req.OriginY,
		Rotation:    req.Rotation,
		TextHeight:  req.TextHeight,
		ElementSize: req.ElementSize,
		IsActive:    true,
	}, nil
}

// replace deactivates the current row of cfg's tuple and inserts cfg
func (f *ElementConfigFlowImpl) replace(ctx context.Context, cfg *models.ElementConfig) (int64, error) {
	n, err := f.configRepo.DeactivateTuple(ctx, cfg.Design, cfg.Revision, cfg.Position, cfg.ElementType)
	if err != nil {
		return 0, err
	}
	return n, f.configRepo.Save(ctx, cfg)
}

// Upsert makes req the active placement of its tuple. The previous row is kept
// inactive for history.
func (f *ElementConfigFlowImpl) Upsert(ctx context.Context, req *dto.UpsertElementConfigRequest) (*dto.ElementConfigItem, error) {
	cfg, err := buildElementConfig(req)
	if err != nil {
		return nil, NewBusinessError("INVALID_ELEMENT_CONFIG", err.Error(), err)
	}

	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := f.replace(txCtx, cfg)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("ELEMENT_CONFIG_SAVE_FAILED", "failed to store element config", err)
	}
	f.placement.Invalidate(ctx, cfg.Design)

	f.logger.Info("element config updated", auditFields(ctx,
		zap.String("design", cfg.Design),
		zap.String("revision", models.RevisionLabel(cfg.Revision)),
		zap.Int("position", cfg.Position),
		zap.String("element_type", cfg.ElementType.String()),
	)...)
	item := toElementConfigItem(cfg)
	return &item, nil
}

// ListByDesign returns the active rows of design ordered by position and type
func (f *ElementConfigFlowImpl) ListByDesign(ctx context.Context, design string) (*dto.ListElementConfigsResponse, error) {
	design = models.NormalizeDesign(design)
	if design == "" {
		return nil, NewBusinessError("DESIGN_REQUIRED", "design is required", nil)
	}
	active := true
	rows, err := f.configRepo.ByFilter(ctx, models.ElementConfigFilter{Design: &design, IsActive: &active}, "position ASC, element_type ASC, revision ASC NULLS FIRST", 0, 0)
	if err != nil {
		return nil, err
	}
	resp := &dto.ListElementConfigsResponse{Design: design, Items: make([]dto.ElementConfigItem, 0, len(rows))}
	for _, row := range rows {
		resp.Items = append(resp.Items, toElementConfigItem(row))
	}
	return resp, nil
}

// ImportTOML validates every entry before writing any. Unknown keys are
// rejected so a typo cannot silently drop a field.
func (f *ElementConfigFlowImpl) ImportTOML(ctx context.Context, r io.Reader) (*dto.ImportElementConfigsResponse, error) {
	var file elementSeedFile
	meta, err := toml.NewDecoder(r).Decode(&file)
	if err != nil {
		return nil, NewBusinessError("INVALID_SEED_FILE", "seed file is not valid TOML", errors.Join(ErrInvalidElementConfig, err))
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, NewBusinessErrorf("INVALID_SEED_FILE", "unknown keys: %s", ErrInvalidElementConfig, strings.Join(keys, ", "))
	}
	if len(file.Element) == 0 {
		return nil, NewBusinessError("INVALID_SEED_FILE", "seed file has no [[element]] entries", ErrInvalidElementConfig)
	}

	var (
		configs []*models.ElementConfig
		errs    []error
		seen    = make(map[string]int)
	)
	for i := range file.Element {
		cfg, err := buildElementConfig(&file.Element[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("element %d: %w", i+1, err))
			continue
		}
		key := fmt.Sprintf("%s/%s/%d/%s", cfg.Design, models.RevisionLabel(cfg.Revision), cfg.Position, cfg.ElementType)
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("element %d: %w: duplicates element %d (%s)", i+1, ErrInvalidElementConfig, prev, key))
			continue
		}
		seen[key] = i + 1
		configs = append(configs, cfg)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		return nil, NewBusinessError("INVALID_SEED_FILE", err.Error(), err)
	}

	resp := &dto.ImportElementConfigsResponse{}
	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, cfg := range configs {
			n, err := f.replace(txCtx, cfg)
			if err != nil {
				return err
			}
			resp.Deactivated += int(n)
			resp.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("ELEMENT_CONFIG_SAVE_FAILED", "failed to import element configs", err)
	}

	designs := make([]string, 0, len(configs))
	for _, cfg := range configs {
		designs = append(designs, cfg.Design)
	}
	resp.Designs = uniqueDesigns(designs)
	f.placement.Invalidate(ctx, resp.Designs...)

	f.logger.Info("element configs imported", auditFields(ctx,
		zap.Int("imported", resp.Imported),
		zap.Int("deactivated", resp.Deactivated),
		zap.Strings("designs", resp.Designs),
	)...)
	return resp, nil
}

func toElementConfigItem(cfg *models.ElementConfig) dto.ElementConfigItem {
	return dto.ElementConfigItem{
		ID:          cfg.ID,
		Design:      cfg.Design,
		Revision:    cfg.Revision,
		Position:    cfg.Position,
		ElementType: cfg.ElementType.String(),
		OriginX:     cfg.OriginX,
		OriginY:     cfg.OriginY,
		Rotation:    cfg.Rotation,
		TextHeight:  cfg.TextHeight,
		ElementSize: cfg.ElementSize,
		IsActive:    cfg.IsActive,
		CreatedAt:   utils.FormatRFC3339(cfg.CreatedAt),
	}
}
