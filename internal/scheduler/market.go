package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// MarketHours é a janela de pregão num fuso fixo da bolsa, segunda a sexta, sem feriados
type MarketHours struct {
	Loc      *time.Location
	Open     time.Duration // desde a meia-noite local
	Close    time.Duration
	Holidays map[string]struct{} // "2006-01-02" no fuso da bolsa
}

// ParseMarketHours lê tz ("America/New_York"), abertura e fechamento ("09:30", "16:00")
// e uma lista opcional de feriados "2026-12-25,2027-01-01"
func ParseMarketHours(tz, open, close, holidays string) (MarketHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return MarketHours{}, fmt.Errorf("market tz %q: %w", tz, err)
	}
	o, err := clock(open)
	if err != nil {
		return MarketHours{}, err
	}
	c, err := clock(close)
	if err != nil {
		return MarketHours{}, err
	}
	if c <= o {
		return MarketHours{}, fmt.Errorf("market close %s must be after open %s", close, open)
	}
	m := MarketHours{Loc: loc, Open: o, Close: c, Holidays: map[string]struct{}{}}
	for _, h := range strings.Split(holidays, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			return MarketHours{}, fmt.Errorf("market holiday %q: %w", h, err)
		}
		m.Holidays[h] = struct{}{}
	}
	return m, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("market clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsOpen diz se t cai dentro do pregão: [Open, Close) em dia útil não feriado
func (m MarketHours) IsOpen(t time.Time) bool {
	if m.Loc == nil {
		return false
	}
	local := t.In(m.Loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if _, ok := m.Holidays[local.Format(time.DateOnly)]; ok {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.Loc)
	since := local.Sub(midnight)
	return since >= m.Open && since < m.Close
}
