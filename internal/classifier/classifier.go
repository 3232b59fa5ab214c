package classifier

import (
	"context"

	"github.com/example/foodscan/internal/compress"
)

// Result is the classification returned by the remote service. Preview is the
// locally held image reference; the service never echoes the image back.
type Result struct {
	FoodName        string   `json:"food_name"`
	Description     string   `json:"description"`
	Origin          string   `json:"origin"`
	SpiceLevel      string   `json:"spice_level"`
	MainIngredients []string `json:"main_ingredients"`
	Source          string   `json:"source"`
	Preview         string   `json:"image,omitempty"`
}

// Client exposes the classification call used by the pipeline.
type Client interface {
	Classify(ctx context.Context, asset *compress.Asset, token string) (*Result, error)
}
