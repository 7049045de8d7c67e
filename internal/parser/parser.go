// Package parser разбирает HTML-таблицу продаж терминала в записи о мойках.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/validation"
)

// ErrFormat возвращается, если страница не соответствует ожидаемому формату таблицы.
var ErrFormat = errors.New("unexpected table format")

// Подписи столбцов таблицы продаж. Пробелы внутри заголовков схлопываются до одного.
const (
	colID         = "Id"
	colDate       = "Дата"
	colLaunchType = "Тип запуска БУМ"
	colState      = "Состояние БУМ"
	colStartDate  = "Дата запуска БУМ"
	colEndDate    = "Дата завершения БУМ"
	colMode       = "Режим БУМ"
	colClient     = "Клиент"
	colBonuses    = "Бонусы Бонусы"
	colPromocode  = "Промокод Промокоды"
	colPrice      = "Сумма"
)

const (
	// LaunchAutomatic задаёт тип запуска, который попадает в обработку.
	LaunchAutomatic = "Автоматический"
	// Undetermined означает дату, которую терминал не смог определить.
	Undetermined = "Не определено"

	dateLayout = "02.01.2006 15:04:05"
)

var (
	requiredColumns = []string{
		colID, colDate, colLaunchType, colState, colStartDate, colEndDate,
		colMode, colClient, colBonuses, colPromocode, colPrice,
	}
	digits = regexp.MustCompile(`[0-9]+`)
)

// Parser превращает страницу продаж в типизированные записи.
type Parser struct {
	location *time.Location
}

// New создаёт парсер, который интерпретирует даты таблицы в часовом поясе loc.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{location: loc}
}

// cell хранит текст ячейки таблицы. Пустая строка и NaN означают отсутствие значения.
type cell string

func (c cell) empty() bool {
	s := string(c)
	return s == "" || strings.EqualFold(s, "nan")
}

// row описывает строку таблицы продаж с именованными столбцами.
type row struct {
	num        int
	id         cell
	date       cell
	launchType cell
	state      cell
	startDate  cell
	endDate    cell
	mode       cell
	client     cell
	bonuses    cell
	promocode  cell
	price      cell
}

// Parse разбирает первую таблицу страницы и возвращает мойки с автоматическим запуском.
// Любая некорректная строка прерывает разбор всей страницы.
func (p *Parser) Parse(terminalID int, page string) ([]model.Washing, error) {
	rows, err := readRows(page)
	if err != nil {
		return nil, err
	}

	washings := make([]model.Washing, 0, len(rows))
	for _, r := range rows {
		if string(r.launchType) != LaunchAutomatic {
			continue
		}

		w, err := p.washing(terminalID, r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r.num, err)
		}
		washings = append(washings, w)
	}

	return washings, nil
}

func readRows(page string) ([]row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: no table found", ErrFormat)
	}

	trs := table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest("table").IsSelection(table)
	})

	headerIdx := -1
	var header map[string]int
	trs.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		ths := tr.ChildrenFiltered("th")
		if ths.Length() == 0 {
			return true
		}
		headerIdx = i
		header = make(map[string]int, ths.Length())
		ths.Each(func(j int, th *goquery.Selection) {
			header[text(th)] = j
		})
		return false
	})
	if header == nil {
		return nil, fmt.Errorf("%w: no header row", ErrFormat)
	}

	for _, name := range requiredColumns {
		if _, ok := header[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrFormat, name)
		}
	}

	var rows []row
	trs.Each(func(i int, tr *goquery.Selection) {
		if i <= headerIdx {
			return
		}
		tds := tr.ChildrenFiltered("td")
		if tds.Length() == 0 {
			return
		}

		values := make([]cell, tds.Length())
		tds.Each(func(j int, td *goquery.Selection) {
			values[j] = cell(text(td))
		})
		get := func(name string) cell {
			idx := header[name]
			if idx >= len(values) {
				return ""
			}
			return values[idx]
		}

		rows = append(rows, row{
			num:        len(rows) + 1,
			id:         get(colID),
			date:       get(colDate),
			launchType: get(colLaunchType),
			state:      get(colState),
			startDate:  get(colStartDate),
			endDate:    get(colEndDate),
			mode:       get(colMode),
			client:     get(colClient),
			bonuses:    get(colBonuses),
			promocode:  get(colPromocode),
			price:      get(colPrice),
		})
	})

	return rows, nil
}

func (p *Parser) washing(terminalID int, r row) (model.Washing, error) {
	if r.id.empty() {
		return model.Washing{}, fmt.Errorf("%w: empty id", ErrFormat)
	}

	date, err := p.date(r.date)
	if err != nil {
		return model.Washing{}, err
	}
	startDate, err := p.date(r.startDate)
	if err != nil {
		return model.Washing{}, err
	}
	endDate, err := p.date(r.endDate)
	if err != nil {
		return model.Washing{}, err
	}
	mode, err := parseMode(r.mode)
	if err != nil {
		return model.Washing{}, err
	}
	bonuses, err := optionalInt(r.bonuses, colBonuses)
	if err != nil {
		return model.Washing{}, err
	}
	promocode, err := parsePromocode(r.promocode)
	if err != nil {
		return model.Washing{}, err
	}
	price, err := parseInteger(string(r.price))
	if err != nil {
		return model.Washing{}, fmt.Errorf("%w: price %q", ErrFormat, r.price)
	}

	return model.Washing{
		ID:        string(r.id),
		Terminal:  terminalID,
		Date:      date,
		State:     string(r.state),
		StartDate: startDate,
		EndDate:   endDate,
		Mode:      mode,
		Phone:     parsePhone(r.client),
		Bonuses:   bonuses,
		Promocode: promocode,
		Price:     floorDiv(price, 100),
	}, nil
}

func (p *Parser) date(c cell) (*time.Time, error) {
	if c.empty() || string(c) == Undetermined {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, string(c), p.location)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrFormat, c)
	}
	return &t, nil
}

// parseMode извлекает номер режима из подписи вида "Режим 3".
func parseMode(c cell) (int, error) {
	fields := strings.Fields(string(c))
	if len(fields) < 2 {
		return 0, fmt.Errorf("%w: mode %q", ErrFormat, c)
	}
	mode, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: mode %q", ErrFormat, c)
	}
	return mode, nil
}

func parsePhone(c cell) *string {
	if c.empty() {
		return nil
	}
	phone := validation.NormalizePhone(string(c))
	return &phone
}

func parsePromocode(c cell) (*int, error) {
	if c.empty() {
		return nil, nil
	}
	found := digits.FindString(string(c))
	if found == "" {
		return nil, fmt.Errorf("%w: promocode %q", ErrFormat, c)
	}
	code, err := strconv.Atoi(found)
	if err != nil {
		return nil, fmt.Errorf("%w: promocode %q", ErrFormat, c)
	}
	return &code, nil
}

func optionalInt(c cell, column string) (*int, error) {
	if c.empty() {
		return nil, nil
	}
	v, err := parseInteger(string(c))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrFormat, column, c)
	}
	return &v, nil
}

// parseInteger разбирает целое число, допуская разделители разрядов и нулевую дробную часть.
// Запятая и пробелы считаются разделителями разрядов: "1,500" и "1 500" дают 1500.
func parseInteger(s string) (int, error) {
	s = strings.ReplaceAll(strings.Join(strings.Fields(s), ""), ",", "")
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	return int(f), nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
