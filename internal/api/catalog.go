package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

type catalogItemResponse struct {
	Data struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
		Categories []struct {
			Name string `json:"category_name"`
		} `json:"categories"`
	} `json:"data"`
}

// CatalogExtras возвращает обложку и категории позиции каталога.
// Пустая обложка означает, что у позиции нет изображений.
func (c *Client) CatalogExtras(ctx context.Context, itemID int64) (model.CatalogExtras, error) {
	var resp catalogItemResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/catalog/%d", itemID), nil, nil, &resp); err != nil {
		return model.CatalogExtras{}, err
	}

	var extras model.CatalogExtras
	if len(resp.Data.Images) > 0 {
		extras.ImageRef = resp.Data.Images[0].URL
	}

	names := make([]string, 0, len(resp.Data.Categories))
	for _, cat := range resp.Data.Categories {
		if cat.Name != "" {
			names = append(names, cat.Name)
		}
	}
	extras.CategoryLabel = strings.Join(names, ", ")

	return extras, nil
}
