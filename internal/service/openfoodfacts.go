package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/freshmart/api/internal/database"
)

const offTimeout = 5 * time.Second

// EnrichedProduct is the subset of Open Food Facts data merged into products.
type EnrichedProduct struct {
	Name            string
	Brand           string
	Category        string
	Picture         string
	NutritionalInfo database.NutritionalInfo
	OpenFoodFactsID string
	Barcode         string
}

// OFFClient queries the Open Food Facts public API for barcode lookups.
// Enrichment is best-effort: lookups that fail or miss return (nil, err) and
// (nil, nil) respectively, and callers proceed with user-supplied data.
type OFFClient struct {
	baseURL string
	client  *http.Client
}

// NewOFFClient creates a client against the given base URL
// (e.g. https://world.openfoodfacts.org/api/v0/product).
func NewOFFClient(baseURL string) *OFFClient {
	return &OFFClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: offTimeout},
	}
}

// offResponse mirrors the v0 product endpoint payload.
type offResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Product struct {
		ID          string `json:"_id"`
		ProductName string `json:"product_name"`
		Brands      string `json:"brands"`
		Categories  string `json:"categories"`
		ImageURL    string `json:"image_url"`
		Nutriments  struct {
			EnergyKcal100g *float64 `json:"energy-kcal_100g"`
			Proteins100g   *float64 `json:"proteins_100g"`
			Carbs100g      *float64 `json:"carbohydrates_100g"`
			Fat100g        *float64 `json:"fat_100g"`
			Fiber100g      *float64 `json:"fiber_100g"`
		} `json:"nutriments"`
	} `json:"product"`
}

// FetchByBarcode looks up a product by barcode. Returns (nil, nil) when the
// barcode is unknown to Open Food Facts.
func (c *OFFClient) FetchByBarcode(ctx context.Context, barcode string) (*EnrichedProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s.json", c.baseURL, barcode), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch barcode %s: %w", barcode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch barcode %s: unexpected status %d", barcode, resp.StatusCode)
	}

	var body offResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// status 0 means the barcode is not in the database
	if body.Status == 0 {
		return nil, nil
	}

	id := body.Product.ID
	if id == "" {
		id = barcode
	}

	return &EnrichedProduct{
		Name:     body.Product.ProductName,
		Brand:    body.Product.Brands,
		Category: body.Product.Categories,
		Picture:  body.Product.ImageURL,
		NutritionalInfo: database.NutritionalInfo{
			Calories: body.Product.Nutriments.EnergyKcal100g,
			Protein:  body.Product.Nutriments.Proteins100g,
			Carbs:    body.Product.Nutriments.Carbs100g,
			Fat:      body.Product.Nutriments.Fat100g,
			Fiber:    body.Product.Nutriments.Fiber100g,
		},
		OpenFoodFactsID: id,
		Barcode:         barcode,
	}, nil
}

// MergeNutrition overlays fetched per-100g values under user-supplied ones.
// User keys win; fetched data only fills blanks.
func MergeNutrition(user, fetched database.NutritionalInfo) database.NutritionalInfo {
	merged := fetched
	if user.Calories != nil {
		merged.Calories = user.Calories
	}
	if user.Protein != nil {
		merged.Protein = user.Protein
	}
	if user.Carbs != nil {
		merged.Carbs = user.Carbs
	}
	if user.Fat != nil {
		merged.Fat = user.Fat
	}
	if user.Fiber != nil {
		merged.Fiber = user.Fiber
	}
	return merged
}
