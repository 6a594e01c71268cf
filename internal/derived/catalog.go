package derived

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

// DefaultCoverURL показывается вместо обложки, которой нет или которую не удалось загрузить.
const DefaultCoverURL = "https://youngnails.com.au/wp-content/uploads/2021/11/IMAGE-COMING-SOON-1000.jpg"

// CatalogAPI описывает запрос вспомогательных данных позиции каталога.
type CatalogAPI interface {
	CatalogExtras(ctx context.Context, itemID int64) (model.CatalogExtras, error)
}

// CatalogExtras кэширует обложки и категории позиций каталога.
type CatalogExtras = Cache[int64, model.CatalogExtras]

// NewCatalogExtras создаёт кэш обложек и категорий. Пустой coverURL заменяется на DefaultCoverURL.
func NewCatalogExtras(api CatalogAPI, coverURL string, logger *zap.Logger) *CatalogExtras {
	if coverURL == "" {
		coverURL = DefaultCoverURL
	}

	fetch := func(ctx context.Context, id int64) (model.CatalogExtras, error) {
		extras, err := api.CatalogExtras(ctx, id)
		if err != nil {
			return model.CatalogExtras{}, err
		}
		if extras.ImageRef == "" {
			extras.ImageRef = coverURL
		}
		return extras, nil
	}

	return New[int64, model.CatalogExtras](fetch, model.CatalogExtras{ImageRef: coverURL}, logger)
}
