package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mmeshcher/storefront-sync/internal/model"
	"github.com/mmeshcher/storefront-sync/internal/order"
	"github.com/mmeshcher/storefront-sync/internal/promo"
)

// Форматы вывода.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Output печатает результаты команд в текстовом виде или в JSON.
type Output struct {
	Format string
	Writer io.Writer
}

func (o *Output) json(v any) error {
	enc := json.NewEncoder(o.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *Output) line(format string, args ...any) {
	fmt.Fprintln(o.Writer, strings.TrimRight(fmt.Sprintf(format, args...), " "))
}

// Message печатает короткое сообщение о результате.
func (o *Output) Message(msg string) error {
	if o.Format == FormatJSON {
		return o.json(map[string]string{"message": msg})
	}
	o.line("%s", msg)
	return nil
}

// Session печатает текущую сессию.
func (o *Output) Session(s model.Session) error {
	if o.Format == FormatJSON {
		return o.json(s)
	}
	o.line("Signed in as %s <%s> (%s)", s.DisplayName, s.Email, s.Role)
	o.line("Balance: %s", s.WalletBalance.StringFixed(2))
	return nil
}

// Cart печатает снимок корзины.
func (o *Output) Cart(v order.View) error {
	if o.Format == FormatJSON {
		return o.json(v)
	}
	if len(v.Items) == 0 {
		o.line("Cart is empty")
		return nil
	}

	o.line("Order #%d (%s)", v.OrderID, v.Status)
	for _, it := range v.Items {
		o.line("  %-6d %-20s %10s  %s", it.CatalogItemID, it.DisplayName, it.UnitPrice.StringFixed(2), it.CategoryLabel)
	}
	switch {
	case v.PromoCode != "":
		o.line("Promo:    %s", v.PromoCode)
	case v.AppliedPromoID != nil:
		// Код знает только контекст, который его применил.
		o.line("Promo:    #%d", *v.AppliedPromoID)
	}
	o.line("Subtotal: %s", v.Confirmed.Before.StringFixed(2))
	o.line("Discount: %s", v.Discount.StringFixed(2))
	o.line("Total:    %s", v.Confirmed.After.StringFixed(2))
	return nil
}

const promoRow = "%-12s %-8s %8s %-6s %-10s %s"

// Promotions печатает промокоды со статусами.
func (o *Output) Promotions(list []promo.Listed) error {
	if o.Format == FormatJSON {
		return o.json(list)
	}
	if len(list) == 0 {
		o.line("No promotions")
		return nil
	}

	o.line(promoRow, "CODE", "TYPE", "VALUE", "USED", "STATUS", "WINDOW")
	for _, p := range list {
		o.line(promoRow, p.Code, p.DiscountKind, promoValue(p.Promotion), promoUsage(p.Promotion), p.Status, promoWindow(p.Promotion))
	}
	return nil
}

func promoValue(p model.Promotion) string {
	if p.DiscountKind == model.DiscountPercent {
		return p.DiscountValue.String() + "%"
	}
	return p.DiscountValue.StringFixed(2)
}

func promoUsage(p model.Promotion) string {
	if p.UsageLimit == nil {
		return fmt.Sprintf("%d/-", p.UsedCount)
	}
	return fmt.Sprintf("%d/%d", p.UsedCount, *p.UsageLimit)
}

func promoWindow(p model.Promotion) string {
	if p.WindowStart == "" && p.WindowEnd == "" {
		return "-"
	}
	start, end := string(p.WindowStart), string(p.WindowEnd)
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "-"
	}
	return start + ".." + end
}
