package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/validation"
)

// ErrNotFound возвращается, если промокода с таким идентификатором нет в списке.
var ErrNotFound = errors.New("promotion not found")

// API описывает административные операции удалённого API над промокодами.
type API interface {
	ListPromotions(ctx context.Context) ([]model.Promotion, error)
	CreatePromotion(ctx context.Context, p model.Promotion) (model.Promotion, error)
	UpdatePromotion(ctx context.Context, p model.Promotion) (model.Promotion, error)
	DeletePromotion(ctx context.Context, id string) error
}

// Service реализует административную работу с промокодами: список со статусами и валидированный CRUD.
type Service struct {
	api    API
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт сервис промокодов.
func NewService(api API, logger *zap.Logger) *Service {
	return &Service{
		api:    api,
		logger: logger,
		now:    time.Now,
	}
}

// List возвращает промокоды, отфильтрованные по коду и статусу.
func (s *Service) List(ctx context.Context, query string, status model.PromoStatus) ([]Listed, error) {
	promos, err := s.api.ListPromotions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	return Filter(promos, query, status, s.now()), nil
}

func normalize(p model.Promotion) (model.Promotion, error) {
	p.Code = NormalizeCode(p.Code)
	if err := validation.Promotion(p); err != nil {
		return model.Promotion{}, err
	}
	return p, nil
}

// Create валидирует и создаёт промокод.
func (s *Service) Create(ctx context.Context, p model.Promotion) (model.Promotion, error) {
	p, err := normalize(p)
	if err != nil {
		return model.Promotion{}, err
	}

	created, err := s.api.CreatePromotion(ctx, p)
	if err != nil {
		return model.Promotion{}, fmt.Errorf("create promotion %s: %w", p.Code, err)
	}

	s.logger.Info("promotion created", zap.String("code", created.Code), zap.String("id", created.ID))
	return created, nil
}

// Update валидирует и сохраняет промокод.
func (s *Service) Update(ctx context.Context, p model.Promotion) (model.Promotion, error) {
	if p.ID == "" {
		return model.Promotion{}, fmt.Errorf("%w: id is required", validation.ErrInvalidPromotion)
	}
	p, err := normalize(p)
	if err != nil {
		return model.Promotion{}, err
	}

	updated, err := s.api.UpdatePromotion(ctx, p)
	if err != nil {
		return model.Promotion{}, fmt.Errorf("update promotion %s: %w", p.ID, err)
	}
	return updated, nil
}

// Delete удаляет промокод.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.api.DeletePromotion(ctx, id); err != nil {
		return fmt.Errorf("delete promotion %s: %w", id, err)
	}
	s.logger.Info("promotion deleted", zap.String("id", id))
	return nil
}

// SetActive включает или выключает промокод, не меняя остальных полей.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (model.Promotion, error) {
	promos, err := s.api.ListPromotions(ctx)
	if err != nil {
		return model.Promotion{}, fmt.Errorf("list promotions: %w", err)
	}

	for _, p := range promos {
		if p.ID != id {
			continue
		}
		if p.Active == active {
			return p, nil
		}
		p.Active = active
		return s.Update(ctx, p)
	}
	return model.Promotion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
