// Package catalog provides the deployment catalog: the list of models an
// operator can start a session with.
//
// The catalog merges two data sources:
//
//  1. Per-region deployment CSVs plus the constructor master CSV. Each region
//     CSV lists deployment names; the master maps names to constructors.
//
//  2. An optional deployment metadata file (JSON or YAML) carrying display
//     names, provider, release date, sort order, capability tags and
//     recommended usage. When it exists it replaces the CSV listing.
//
// Region credentials and endpoints come from the environment. The catalog is
// safe for concurrent use and can be reloaded while the server runs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/llmselect/llmselect-chat/internal/config"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// Source names where the current listing came from.
const (
	SourceCSV      = "csv"
	SourceMetadata = "metadata"
)

// ErrUnknownDeployment is returned by Find for deployments not in the catalog.
var ErrUnknownDeployment = errors.New("unknown deployment")

// Catalog is a thread-safe, reloadable deployment catalog.
type Catalog struct {
	regions           []config.RegionConfig
	constructorMaster string
	metadataPath      string

	mu           sync.RWMutex
	deployments  []models.Deployment
	constructors map[string]string
	providers    map[string]string
	displayNames map[string]string
	source       string
	loadedAt     time.Time
}

// New creates an empty catalog for the configured regions and files.
// Call Load before use.
func New(cfg *config.Config) *Catalog {
	return &Catalog{
		regions:           cfg.Regions,
		constructorMaster: cfg.Paths.ConstructorMaster,
		metadataPath:      cfg.Paths.DeploymentModels,
		constructors:      make(map[string]string),
		providers:         make(map[string]string),
		displayNames:      make(map[string]string),
	}
}

// Load (re)reads every catalog file. On error the previous listing is kept.
func (c *Catalog) Load(ctx context.Context) error {
	master, err := loadConstructorMaster(c.constructorMaster)
	if err != nil {
		return fmt.Errorf("catalog: constructor master: %w", err)
	}

	meta, hasMeta, err := loadMetadata(c.metadataPath)
	if err != nil {
		return fmt.Errorf("catalog: metadata: %w", err)
	}

	var (
		deployments []models.Deployment
		source      string
	)
	if hasMeta {
		deployments = c.fromMetadata(meta)
		source = SourceMetadata
	} else {
		deployments, err = c.fromCSV(ctx, master)
		if err != nil {
			return fmt.Errorf("catalog: deployments: %w", err)
		}
		source = SourceCSV
	}

	providers := make(map[string]string, len(meta))
	displayNames := make(map[string]string, len(meta))
	for _, m := range meta {
		if m.Provider != "" {
			providers[m.DeploymentName] = m.Provider
		}
		if m.DisplayName != "" {
			displayNames[m.DeploymentName] = m.DisplayName
		}
	}

	c.mu.Lock()
	c.deployments = deployments
	c.constructors = master
	c.providers = providers
	c.displayNames = displayNames
	c.source = source
	c.loadedAt = time.Now()
	c.mu.Unlock()

	log.Info().
		Int("deployments", len(deployments)).
		Str("source", source).
		Msg("📚 Deployment catalog loaded")
	return nil
}

// Reload is Load under the name the watcher and API use.
func (c *Catalog) Reload(ctx context.Context) error { return c.Load(ctx) }

// fromCSV builds the listing from the region CSVs, loading them concurrently.
func (c *Catalog) fromCSV(ctx context.Context, master map[string]string) ([]models.Deployment, error) {
	names := make([][]string, len(c.regions))
	g, _ := errgroup.WithContext(ctx)
	for i, region := range c.regions {
		if region.DeploymentFile == "" {
			continue
		}
		i, region := i, region
		g.Go(func() error {
			list, err := loadDeploymentNames(region.DeploymentFile)
			if err != nil {
				return fmt.Errorf("%s: %w", region.Name, err)
			}
			names[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var result []models.Deployment
	for i, region := range c.regions {
		for _, dep := range names[i] {
			modelType := ModelType(dep)
			constructor := constructorFrom(master, dep)
			icon := ConstructorIcon(constructor)
			result = append(result, models.Deployment{
				Region:          region.Name,
				DeploymentName:  dep,
				ModelType:       modelType,
				Constructor:     constructor,
				ConstructorIcon: icon,
				Endpoint:        endpointFor(region, modelType),
				APIVersion:      region.APIVersion,
				DisplayName:     dep,
				Label:           fmt.Sprintf("%s %s (%s) %s", icon, dep, region.Name, constructor),
				SortOrder:       defaultSortOrder,
			})
		}
	}
	return result, nil
}

// fromMetadata builds the listing from the metadata file, sorted by
// sort_order. Entries naming an unconfigured region are skipped.
func (c *Catalog) fromMetadata(meta []deploymentMeta) []models.Deployment {
	var result []models.Deployment
	for _, m := range meta {
		region, ok := c.region(m.Region)
		if !ok {
			log.Warn().
				Str("region", m.Region).
				Str("deployment", m.DeploymentName).
				Msg("Deployment metadata names an unknown region, skipping")
			continue
		}

		modelType := ModelType(m.DeploymentName)
		provider := m.Provider
		if provider == "" {
			provider = UnknownConstructor
		}
		icon := ConstructorIcon(provider)
		display := m.DisplayName
		if display == "" {
			display = m.DeploymentName
		}
		sortOrder := defaultSortOrder
		if m.SortOrder != nil {
			sortOrder = *m.SortOrder
		}

		result = append(result, models.Deployment{
			Region:           region.Name,
			DeploymentName:   m.DeploymentName,
			ModelType:        modelType,
			Constructor:      provider,
			ConstructorIcon:  icon,
			Endpoint:         endpointFor(region, modelType),
			APIVersion:       region.APIVersion,
			DisplayName:      display,
			Label:            fmt.Sprintf("%s %s (%s)", icon, display, region.Name),
			Provider:         provider,
			ProviderIcon:     icon,
			ReleaseDate:      m.ReleaseDate,
			SortOrder:        sortOrder,
			CapabilityTags:   append([]string(nil), m.CapabilityTag...),
			RecommendedUsage: m.RecommendedUsage,
		})
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].SortOrder < result[j].SortOrder })
	return result
}

// ── Lookups ─────────────────────────────────────────────────

// Models returns a copy of the current listing.
func (c *Catalog) Models() []models.Deployment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Deployment, len(c.deployments))
	for i, d := range c.deployments {
		d.CapabilityTags = append([]string(nil), d.CapabilityTags...)
		out[i] = d
	}
	return out
}

// Find returns the deployment with the given region and name.
func (c *Catalog) Find(region, deployment string) (models.Deployment, error) {
	region = CanonicalRegion(region)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.deployments {
		if d.Region == region && d.DeploymentName == deployment {
			d.CapabilityTags = append([]string(nil), d.CapabilityTags...)
			return d, nil
		}
	}
	return models.Deployment{}, fmt.Errorf("%w: %s (%s)", ErrUnknownDeployment, deployment, region)
}

// Constructor returns the constructor (or provider) for a deployment.
func (c *Catalog) Constructor(deployment string) string {
	if deployment == "" {
		return UnknownConstructor
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.providers[deployment]; ok {
		return p
	}
	return constructorFrom(c.constructors, deployment)
}

// DisplayName returns the metadata display name, or the deployment name.
func (c *Catalog) DisplayName(deployment string) string {
	if deployment == "" {
		return UnknownRegion
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.displayNames[deployment]; ok {
		return d
	}
	return deployment
}

// APIKeyForRegion returns the API key of a region; legacy labels are accepted.
func (c *Catalog) APIKeyForRegion(region string) string {
	r, ok := c.region(region)
	if !ok {
		return ""
	}
	return r.APIKey
}

// AnthropicEndpointForRegion returns the Anthropic endpoint of a region,
// falling back to its OpenAI endpoint.
func (c *Catalog) AnthropicEndpointForRegion(region string) string {
	r, ok := c.region(region)
	if !ok {
		return ""
	}
	return endpointFor(r, models.ModelTypeAnthropic)
}

// Regions returns the configured region names in display order.
func (c *Catalog) Regions() []string {
	names := make([]string, len(c.regions))
	for i, r := range c.regions {
		names[i] = r.Name
	}
	return names
}

// Source reports which file set the current listing came from.
func (c *Catalog) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// LoadedAt returns when the catalog was last loaded.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Catalog) region(name string) (config.RegionConfig, bool) {
	if name == "" {
		return config.RegionConfig{}, false
	}
	name = CanonicalRegion(name)
	for _, r := range c.regions {
		if r.Name == name {
			return r, true
		}
	}
	return config.RegionConfig{}, false
}

func constructorFrom(master map[string]string, deployment string) string {
	if c, ok := master[deployment]; ok && c != "" {
		return c
	}
	return UnknownConstructor
}

func endpointFor(region config.RegionConfig, modelType string) string {
	if modelType == models.ModelTypeAnthropic && region.AnthropicEndpoint != "" {
		return region.AnthropicEndpoint
	}
	return region.Endpoint
}
