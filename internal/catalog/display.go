package catalog

import (
	"strings"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

const (
	// UnknownConstructor is shown for deployments missing from the master.
	UnknownConstructor = "その他"
	// UnknownRegion is shown for sessions without a region.
	UnknownRegion = "不明"

	defaultIcon = "🔵"
)

var constructorIcons = map[string]string{
	"OpenAI":    "🟢",
	"Anthropic": "🟣",
	"DeepSeek":  "🟠",
	"Moonshot":  "🟠",
	"xAI":       "🔵",
	"Meta":      "🔵",
}

// legacyRegions maps region labels found in older log files.
var legacyRegions = map[string]string{
	"JP (Japan East)": "Japan East",
	"US (East US 2)":  "East US2",
}

// ConstructorIcon returns the badge icon for a constructor or provider name.
func ConstructorIcon(constructor string) string {
	if icon, ok := constructorIcons[constructor]; ok {
		return icon
	}
	return defaultIcon
}

// IsAnthropic reports whether the deployment is a Claude model.
func IsAnthropic(deployment string) bool {
	return strings.HasPrefix(strings.ToLower(deployment), "claude")
}

// ModelType classifies a deployment as anthropic or openai.
func ModelType(deployment string) string {
	if IsAnthropic(deployment) {
		return models.ModelTypeAnthropic
	}
	return models.ModelTypeOpenAI
}

// TypeDisplay is the icon and label for a model type.
type TypeDisplay struct {
	Icon string `json:"icon"`
	Name string `json:"name"`
}

func ModelTypeDisplay(modelType string) TypeDisplay {
	if modelType == models.ModelTypeAnthropic {
		return TypeDisplay{Icon: "🟣", Name: "Anthropic (Claude)"}
	}
	return TypeDisplay{Icon: "🟢", Name: "OpenAI (GPT)"}
}

// CanonicalRegion maps legacy region labels to current names.
func CanonicalRegion(region string) string {
	if r, ok := legacyRegions[region]; ok {
		return r
	}
	return region
}

// FormatRegion returns the display label for a stored region.
func FormatRegion(region string) string {
	if region == "" {
		return UnknownRegion
	}
	return CanonicalRegion(region)
}
