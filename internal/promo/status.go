// Package promo вычисляет статус промокодов и управляет ими через административный API.
package promo

import (
	"strings"
	"time"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

// Status возвращает производный статус промокода на момент now.
// Проверки идут по порядку, побеждает первая сработавшая: выключенный промокод
// остаётся DISABLED независимо от дат и счётчиков.
// Даты сравниваются как календарные дни без приведения часовых поясов.
func Status(p model.Promotion, now time.Time) model.PromoStatus {
	if !p.Active {
		return model.PromoDisabled
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return model.PromoDepleted
	}

	today := model.DateOf(now)
	if !p.WindowStart.IsZero() && today.Before(p.WindowStart) {
		return model.PromoScheduled
	}
	if !p.WindowEnd.IsZero() && today.After(p.WindowEnd) {
		return model.PromoExpired
	}
	return model.PromoActive
}

// NormalizeCode приводит введённый код к каноническому виду.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// StatusAll отключает фильтр по статусу в Filter.
const StatusAll = "all"

// ParseStatusFilter разбирает фильтр статуса. Пустая строка и "all" означают отсутствие фильтра.
func ParseStatusFilter(s string) (model.PromoStatus, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, StatusAll) {
		return "", true
	}
	st := model.PromoStatus(strings.ToUpper(s))
	for _, known := range model.PromoStatuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// Listed описывает промокод вместе с его статусом на момент выборки.
type Listed struct {
	model.Promotion
	Status model.PromoStatus `json:"status"`
}

// Filter отбирает промокоды по подстроке кода без учёта регистра и по статусу.
// Пустой status означает любой статус. Порядок входного списка сохраняется.
func Filter(promos []model.Promotion, query string, status model.PromoStatus, now time.Time) []Listed {
	q := strings.ToLower(strings.TrimSpace(query))

	res := make([]Listed, 0, len(promos))
	for _, p := range promos {
		if q != "" && !strings.Contains(strings.ToLower(p.Code), q) {
			continue
		}
		st := Status(p, now)
		if status != "" && st != status {
			continue
		}
		res = append(res, Listed{Promotion: p, Status: st})
	}
	return res
}
