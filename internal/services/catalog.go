package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"path"
	"sort"
	"sync"

	"github.com/greencycle/apiserver/internal/storage"
	"github.com/greencycle/apiserver/types"
)

const earthRadiusKm = 6371.0088

const (
	binsObject    = "bins.json"
	rewardsObject = "rewards.json"
)

var ErrRewardNotFound = errors.New("reward not found")

// CatalogReader loads JSON catalog documents from object storage.
type CatalogReader interface {
	ReadJSON(ctx context.Context, key string, v any) error
}

// CatalogService serves recycling bins and reward cards. It starts from
// built-in defaults and replaces them with whatever Reload finds in object
// storage.
type CatalogService struct {
	source CatalogReader
	prefix string
	logger *slog.Logger

	mu      sync.RWMutex
	bins    []types.Bin
	rewards []types.RewardCard
}

// NewCatalogService builds a catalog. source may be nil, in which case the
// built-in catalog is served.
func NewCatalogService(source CatalogReader, prefix string, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		source:  source,
		prefix:  prefix,
		logger:  logger.With("component", "catalog"),
		bins:    DefaultBins(),
		rewards: DefaultRewards(),
	}
}

// CatalogKeys returns the object keys of the bin and reward documents
// under prefix.
func CatalogKeys(prefix string) (bins, rewards string) {
	return path.Join(prefix, binsObject), path.Join(prefix, rewardsObject)
}

// Reload reads both catalog documents. A missing document leaves the
// current data in place; any other failure is returned and nothing is
// replaced.
func (c *CatalogService) Reload(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	binsKey, rewardsKey := CatalogKeys(c.prefix)

	var bins []types.Bin
	binsFound, err := c.read(ctx, binsKey, &bins)
	if err != nil {
		return err
	}
	var rewards []types.RewardCard
	rewardsFound, err := c.read(ctx, rewardsKey, &rewards)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if binsFound {
		c.bins = bins
	}
	if rewardsFound {
		c.rewards = rewards
	}
	c.logger.InfoContext(ctx, "catalog loaded", "bins", len(c.bins), "rewards", len(c.rewards))
	return nil
}

func (c *CatalogService) read(ctx context.Context, key string, v any) (bool, error) {
	err := c.source.ReadJSON(ctx, key, v)
	if errors.Is(err, storage.ErrObjectNotFound) {
		c.logger.InfoContext(ctx, "catalog object missing, keeping current data", "key", key)
		return false, nil
	}
	if err != nil {
		return false, persistenceError("load catalog "+key, err)
	}
	return true, nil
}

// NearestBins ranks every bin by great-circle distance from (lat, lon),
// closest first.
func (c *CatalogService) NearestBins(lat, lon float64) ([]types.BinDistance, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return nil, newValidationError("lat", "must be between -90 and 90")
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return nil, newValidationError("lon", "must be between -180 and 180")
	}

	c.mu.RLock()
	out := make([]types.BinDistance, 0, len(c.bins))
	for _, bin := range c.bins {
		out = append(out, types.BinDistance{
			ID:       bin.ID,
			Name:     bin.Name,
			Address:  bin.Address,
			Distance: DistanceKm(lat, lon, bin.Latitude, bin.Longitude),
		})
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func (c *CatalogService) Rewards() []types.RewardCard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.RewardCard, len(c.rewards))
	copy(out, c.rewards)
	return out
}

func (c *CatalogService) Reward(id int) (types.RewardCard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, reward := range c.rewards {
		if reward.ID == id {
			return reward, nil
		}
	}
	return types.RewardCard{}, ErrRewardNotFound
}

// DistanceKm is the haversine distance between two points in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func DefaultBins() []types.Bin {
	return []types.Bin{
		{ID: 1, Name: "Central Station Bin", Address: "1 Station Square", Latitude: 51.5308, Longitude: -0.1238},
		{ID: 2, Name: "Riverside Park Bin", Address: "12 Embankment Walk", Latitude: 51.5055, Longitude: -0.1160},
		{ID: 3, Name: "Market Hall Bin", Address: "40 Market Street", Latitude: 51.5145, Longitude: -0.0750},
		{ID: 4, Name: "University Campus Bin", Address: "Gower Street", Latitude: 51.5246, Longitude: -0.1340},
	}
}

func DefaultRewards() []types.RewardCard {
	return []types.RewardCard{
		{ID: 1, Title: "Coffee Voucher", Description: "One free hot drink at partner cafes", Points: 50},
		{ID: 2, Title: "Transit Credit", Description: "Two pounds of public transport credit", Points: 120},
		{ID: 3, Title: "Tree Planting", Description: "We plant a tree on your behalf", Points: 300},
	}
}
