package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout задаёт формат календарной даты.
const DateLayout = "2006-01-02"

// Date представляет календарный день в формате YYYY-MM-DD. Пустое значение означает «не задано».
// Даты сравниваются как упорядоченные строки, без нормализации часовых поясов.
type Date string

// DateOf возвращает календарный день момента t в его собственной локации.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate разбирает дату в формате YYYY-MM-DD или RFC 3339, отбрасывая время суток.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return "", nil
	}
	if len(s) > len(DateLayout) {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return "", fmt.Errorf("parse date %q: %w", s, err)
		}
		s = s[:len(DateLayout)]
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date(s), nil
}

// IsZero сообщает, что дата не задана.
func (d Date) IsZero() bool {
	return d == ""
}

// Before сообщает, что день d раньше дня other.
func (d Date) Before(other Date) bool {
	return string(d) < string(other)
}

// After сообщает, что день d позже дня other.
func (d Date) After(other Date) bool {
	return string(d) > string(other)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
