package parser

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var header = []string{
	"Id", "Дата", "Тип запуска  БУМ", "Состояние  БУМ", "Дата запуска  БУМ",
	"Дата завершения  БУМ", "Режим  БУМ", "Клиент", "Бонусы  Бонусы",
	"Промокод  Промокоды", "Сумма",
}

type testRow struct {
	id, date, launch, state, start, end, mode, client, bonuses, promo, price string
}

func automatic(id string) testRow {
	return testRow{
		id:      id,
		date:    "12.03.2024 10:15:00",
		launch:  LaunchAutomatic,
		state:   "Завершено",
		start:   "12.03.2024 10:16:00",
		end:     "12.03.2024 10:25:30",
		mode:    "Режим 3",
		client:  "8 (909) 233-01-23",
		bonuses: "50",
		promo:   "",
		price:   "45000",
	}
}

func manual(id string) testRow {
	r := automatic(id)
	r.launch = "Ручной"
	return r
}

func page(rows ...testRow) string {
	var b strings.Builder
	b.WriteString("<html><body><table class=\"sales\"><thead><tr>")
	for _, h := range header {
		fmt.Fprintf(&b, "<th>%s</th>", h)
	}
	b.WriteString("</tr></thead><tbody>")
	for _, r := range rows {
		b.WriteString("<tr>")
		for _, v := range []string{r.id, r.date, r.launch, r.state, r.start, r.end, r.mode, r.client, r.bonuses, r.promo, r.price} {
			fmt.Fprintf(&b, "<td>%s</td>", v)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table><table><tr><th>other</th></tr></table></body></html>")
	return b.String()
}

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return New(loc)
}

func TestParse_FiltersNonAutomaticRows(t *testing.T) {
	p := newTestParser(t)

	washings, err := p.Parse(1, page(automatic("a1"), manual("m1"), automatic("a2"), manual("m2"), manual("m3")))
	require.NoError(t, err)
	require.Len(t, washings, 2)
	assert.Equal(t, "a1", washings[0].ID)
	assert.Equal(t, "a2", washings[1].ID)
}

func TestParse_Fields(t *testing.T) {
	p := newTestParser(t)

	r := automatic("1001")
	r.bonuses = "-20"
	r.promo = "PROMO 12345 (скидка)"
	washings, err := p.Parse(5, page(r))
	require.NoError(t, err)
	require.Len(t, washings, 1)

	w := washings[0]
	assert.Equal(t, "1001", w.ID)
	assert.Equal(t, 5, w.Terminal)
	assert.Equal(t, "Завершено", w.State)
	assert.Equal(t, 3, w.Mode)
	assert.Equal(t, 450, w.Price)

	require.NotNil(t, w.Phone)
	assert.Equal(t, "+79092330123", *w.Phone)
	require.NotNil(t, w.Bonuses)
	assert.Equal(t, -20, *w.Bonuses)
	require.NotNil(t, w.Promocode)
	assert.Equal(t, 12345, *w.Promocode)

	require.NotNil(t, w.Date)
	assert.Equal(t, 2024, w.Date.Year())
	assert.Equal(t, time.March, w.Date.Month())
	assert.Equal(t, 10, w.Date.Hour())
	require.NotNil(t, w.EndDate)
	assert.Equal(t, 30, w.EndDate.Second())
}

func TestParse_EmptyOptionalFields(t *testing.T) {
	p := newTestParser(t)

	r := automatic("1002")
	r.client = ""
	r.bonuses = ""
	r.promo = "NaN"
	r.start = Undetermined
	r.end = ""
	washings, err := p.Parse(1, page(r))
	require.NoError(t, err)
	require.Len(t, washings, 1)

	w := washings[0]
	assert.Nil(t, w.Phone)
	assert.Nil(t, w.Bonuses)
	assert.Nil(t, w.Promocode)
	assert.Nil(t, w.StartDate)
	assert.Nil(t, w.EndDate)
	assert.NotNil(t, w.Date)
}

func TestParse_MalformedRowAbortsPage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *testRow)
	}{
		{name: "mode without number", mutate: func(r *testRow) { r.mode = "Режим" }},
		{name: "mode not a number", mutate: func(r *testRow) { r.mode = "Режим X" }},
		{name: "bonuses", mutate: func(r *testRow) { r.bonuses = "много" }},
		{name: "promocode without digits", mutate: func(r *testRow) { r.promo = "PROMO" }},
		{name: "price", mutate: func(r *testRow) { r.price = "" }},
		{name: "date", mutate: func(r *testRow) { r.date = "2024-03-12" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := automatic("bad")
			tt.mutate(&bad)

			washings, err := newTestParser(t).Parse(1, page(automatic("ok"), bad))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat), "got %v", err)
			assert.Nil(t, washings)
		})
	}
}

func TestParse_MalformedManualRowIgnored(t *testing.T) {
	bad := manual("bad")
	bad.mode = "?"

	washings, err := newTestParser(t).Parse(1, page(automatic("ok"), bad))
	require.NoError(t, err)
	assert.Len(t, washings, 1)
}

func TestParse_LayoutChanges(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse(1, "<html><body>no table</body></html>")
	assert.True(t, errors.Is(err, ErrFormat), "got %v", err)

	renamed := strings.Replace(page(automatic("1")), "Клиент", "Телефон", 1)
	_, err = p.Parse(1, renamed)
	assert.True(t, errors.Is(err, ErrFormat), "got %v", err)
}

func TestParse_EmptyTable(t *testing.T) {
	washings, err := newTestParser(t).Parse(1, page())
	require.NoError(t, err)
	assert.Empty(t, washings)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 450, floorDiv(45000, 100))
	assert.Equal(t, 450, floorDiv(45099, 100))
	assert.Equal(t, -1, floorDiv(-50, 100))
}

func TestParseInteger(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "45000", want: 45000},
		{in: "1,500", want: 1500},
		{in: "1,234,567", want: 1234567},
		{in: "45 000", want: 45000},
		{in: "45000.0", want: 45000},
		{in: "-20", want: -20},
		{in: "12.5", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInteger(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_ThousandsSeparators(t *testing.T) {
	r := automatic("1003")
	r.price = "1,500"
	r.bonuses = "1,200"

	washings, err := newTestParser(t).Parse(1, page(r))
	require.NoError(t, err)
	require.Len(t, washings, 1)
	assert.Equal(t, 15, washings[0].Price)
	require.NotNil(t, washings[0].Bonuses)
	assert.Equal(t, 1200, *washings[0].Bonuses)
}
