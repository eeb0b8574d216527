package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

var errEmptyCatalog = errors.New("catalog contains no products")

// loadCatalog reads a JSON array of catalog items, rejects items without a
// SKU or name and fills the cleaned fields.
func loadCatalog(path string) ([]models.CatalogItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var items []models.CatalogItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, errEmptyCatalog
	}

	validate := validator.New()
	for i := range items {
		if err := validate.Struct(items[i]); err != nil {
			return nil, fmt.Errorf("catalog item %d: %w", i, err)
		}
		items[i].Normalize()
	}

	return items, nil
}
