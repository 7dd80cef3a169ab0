package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/packing"
	"github.com/amirphl/Kusanagi/placement"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const elementConfigCachePrefix = "kusanagi:element_configs:"

// PlacementFlow resolves element configurations and calibrations for designs
type PlacementFlow interface {
	ActiveConfigs(ctx context.Context, designs []string) ([]*models.ElementConfig, error)
	// ValidateUnits checks that every element a packing needs is configured and
	// returns the configs it resolved against.
	ValidateUnits(ctx context.Context, units []packing.Unit) ([]*models.ElementConfig, error)
	Offset(ctx context.Context, design string) (placement.Offset, error)
	SetCalibration(ctx context.Context, design string, req *dto.UpsertCalibrationRequest) (*dto.CalibrationResponse, error)
	Canvas() placement.Canvas
	Invalidate(ctx context.Context, designs ...string)
}

// PlacementFlowImpl implements PlacementFlow with an optional redis read-through cache
type PlacementFlowImpl struct {
	configRepo      repository.ElementConfigRepository
	calibrationRepo repository.ArrayCalibrationRepository
	rc              *redis.Client
	cacheTTL        time.Duration
	canvas          placement.Canvas
	logger          *zap.Logger
}

func NewPlacementFlow(
	configRepo repository.ElementConfigRepository,
	calibrationRepo repository.ArrayCalibrationRepository,
	rc *redis.Client,
	cacheTTL time.Duration,
	canvas placement.Canvas,
	logger *zap.Logger,
) PlacementFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		canvas = placement.DefaultCanvas()
	}
	return &PlacementFlowImpl{
		configRepo:      configRepo,
		calibrationRepo: calibrationRepo,
		rc:              rc,
		cacheTTL:        cacheTTL,
		canvas:          canvas,
		logger:          logger,
	}
}

func (f *PlacementFlowImpl) Canvas() placement.Canvas { return f.canvas }

// ActiveConfigs returns the active configs of the given designs
func (f *PlacementFlowImpl) ActiveConfigs(ctx context.Context, designs []string) ([]*models.ElementConfig, error) {
	var (
		out    []*models.ElementConfig
		misses []string
	)
	for _, d := range uniqueDesigns(designs) {
		if cached, ok := f.cached(ctx, d); ok {
			out = append(out, cached...)
			continue
		}
		misses = append(misses, d)
	}
	if len(misses) == 0 {
		return out, nil
	}

	rows, err := f.configRepo.ListActiveByDesigns(ctx, misses)
	if err != nil {
		return nil, err
	}
	byDesign := make(map[string][]*models.ElementConfig, len(misses))
	for _, d := range misses {
		byDesign[d] = []*models.ElementConfig{}
	}
	for _, row := range rows {
		d := models.NormalizeDesign(row.Design)
		byDesign[d] = append(byDesign[d], row)
	}
	for _, d := range misses {
		f.store(ctx, d, byDesign[d])
		out = append(out, byDesign[d]...)
	}
	return out, nil
}

func (f *PlacementFlowImpl) cached(ctx context.Context, design string) ([]*models.ElementConfig, bool) {
	if f.rc == nil {
		return nil, false
	}
	bs, err := f.rc.Get(ctx, elementConfigCachePrefix+design).Bytes()
	if err != nil || len(bs) == 0 {
		return nil, false
	}
	var rows []*models.ElementConfig
	if err := json.Unmarshal(bs, &rows); err != nil {
		f.logger.Warn("dropping unreadable element config cache entry", zap.String("design", design), zap.Error(err))
		return nil, false
	}
	return rows, true
}

func (f *PlacementFlowImpl) store(ctx context.Context, design string, rows []*models.ElementConfig) {
	if f.rc == nil {
		return
	}
	bs, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := f.rc.Set(ctx, elementConfigCachePrefix+design, bs, f.cacheTTL).Err(); err != nil {
		f.logger.Warn("failed to cache element configs", zap.String("design", design), zap.Error(err))
	}
}

// Invalidate drops cached configs of designs
func (f *PlacementFlowImpl) Invalidate(ctx context.Context, designs ...string) {
	if f.rc == nil || len(designs) == 0 {
		return
	}
	keys := make([]string, 0, len(designs))
	for _, d := range uniqueDesigns(designs) {
		keys = append(keys, elementConfigCachePrefix+d)
	}
	if err := f.rc.Del(ctx, keys...).Err(); err != nil {
		f.logger.Warn("failed to invalidate element config cache", zap.Strings("designs", designs), zap.Error(err))
	}
}

// ValidateUnits resolves every slot element of every unit and every array
// element of every design, collecting all failures into one error
func (f *PlacementFlowImpl) ValidateUnits(ctx context.Context, units []packing.Unit) ([]*models.ElementConfig, error) {
	designs := make([]string, 0, len(units))
	for _, u := range units {
		designs = append(designs, u.Design)
	}
	configs, err := f.ActiveConfigs(ctx, designs)
	if err != nil {
		return nil, err
	}
	if err := RequiredElementsConfigured(configs, units); err != nil {
		return nil, err
	}
	return configs, nil
}

// RequiredElementsConfigured reports every (design, revision, position, type)
// the units need but configs do not provide
func RequiredElementsConfigured(configs []*models.ElementConfig, units []packing.Unit) error {
	var missing missingCollector
	check := func(key placement.Key, sku string) {
		if _, err := placement.Resolve(configs, key); err != nil {
			missing.add(key, sku)
		}
	}

	for _, u := range units {
		rev := revisionPtr(u.Revision)
		for _, t := range models.SlotElementTypes {
			check(placement.KeyFor(u.Design, rev, u.SlotPosition, t), u.SKU)
		}
		if u.LEDText != "" {
			check(placement.KeyFor(u.Design, rev, u.SlotPosition, models.ElementTypeLEDCode), u.SKU)
		}
		for _, t := range models.ArrayElementTypes {
			check(placement.KeyFor(u.Design, rev, models.ArrayLevelPosition, t), u.SKU)
		}
	}
	return missing.err()
}

// Offset returns the calibration of design, zero when none is stored
func (f *PlacementFlowImpl) Offset(ctx context.Context, design string) (placement.Offset, error) {
	row, err := f.calibrationRepo.ByDesign(ctx, design)
	if err != nil {
		return placement.Offset{}, err
	}
	return placement.OffsetOf(row), nil
}

// SetCalibration stores the canvas offsets of design
func (f *PlacementFlowImpl) SetCalibration(ctx context.Context, design string, req *dto.UpsertCalibrationRequest) (*dto.CalibrationResponse, error) {
	design = models.NormalizeDesign(design)
	if design == "" {
		return nil, NewBusinessError("DESIGN_REQUIRED", "design is required", nil)
	}
	if abs(req.OffsetX) > f.canvas.Width || abs(req.OffsetY) > f.canvas.Height {
		return nil, NewBusinessError("CALIBRATION_OUT_OF_RANGE",
			fmt.Sprintf("offsets must stay within the %.0fx%.0f mm canvas", f.canvas.Width, f.canvas.Height), nil)
	}

	row := &models.ArrayCalibration{Design: design, OffsetX: req.OffsetX, OffsetY: req.OffsetY}
	if err := f.calibrationRepo.Upsert(ctx, row); err != nil {
		return nil, NewBusinessError("CALIBRATION_SAVE_FAILED", "failed to store calibration", err)
	}
	f.logger.Info("calibration updated", zap.String("design", design),
		zap.Float64("offset_x", row.OffsetX), zap.Float64("offset_y", row.OffsetY))

	return &dto.CalibrationResponse{
		Design:    row.Design,
		OffsetX:   row.OffsetX,
		OffsetY:   row.OffsetY,
		UpdatedAt: utils.FormatRFC3339(row.UpdatedAt),
	}, nil
}

func uniqueDesigns(designs []string) []string {
	seen := make(map[string]struct{}, len(designs))
	out := make([]string, 0, len(designs))
	for _, d := range designs {
		d = models.NormalizeDesign(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func revisionPtr(rev string) *string {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return nil
	}
	return &rev
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
