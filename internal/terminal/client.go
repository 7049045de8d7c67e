// Package terminal предоставляет клиент веб-панели терминала автомойки.
//
// У терминала нет публичного API: клиент логинится через форму, хранит сессию
// в cookie и забирает HTML-страницы админки.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/validation"
)

const (
	loginPath      = "/Account/Login"
	adminPath      = "/Admin"
	tableSalesPath = "/Admin/_TableSales"
	partnersPath   = "/Modules/GetPartnersByPhoneContains"
	bonusPath      = "/Modules/ModulePartial_Post?ModuleUrl=http://localhost:8083&ActionUrl=BonusChanges/Create"

	bonusModuleName = "Бонусы"
	requestTimeout  = 30 * time.Second
	maxRedirects    = 10
)

// Client владеет сессией одного терминала. Cookie переживают закрытие сессии,
// поэтому повторное открытие обычно не требует нового логина.
type Client struct {
	terminal model.Terminal
	baseURL  string
	logger   *zap.Logger
	jar      http.CookieJar

	mu    sync.Mutex
	http  *resty.Client
	users int

	authMu sync.Mutex
}

// NewClient создаёт клиент терминала. Сессия открывается при первом Acquire.
func NewClient(t model.Terminal, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(t.URL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse terminal url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		terminal: t,
		baseURL:  base,
		logger:   logger.With(zap.Int("terminal", t.ID)),
		jar:      jar,
	}, nil
}

// TerminalID возвращает идентификатор терминала.
func (c *Client) TerminalID() int {
	return c.terminal.ID
}

// Acquire открывает сессию, если она закрыта, и проверяет авторизацию.
// Вложенные и параллельные вызовы используют уже открытую сессию.
// Каждый успешный Acquire должен завершаться вызовом Session.Release.
func (c *Client) Acquire(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.http == nil {
		c.http = c.newHTTP()
	}
	c.users++
	s := &Session{client: c, http: c.http}
	c.mu.Unlock()

	if err := s.EnsureAuthenticated(ctx); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

// Do выполняет fn внутри открытой и авторизованной сессии.
func (c *Client) Do(ctx context.Context, fn func(s *Session) error) error {
	s, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release()

	return fn(s)
}

// FetchSalesTable открывает сессию, забирает страницу продаж и закрывает сессию.
func (c *Client) FetchSalesTable(ctx context.Context) (string, error) {
	var page string
	err := c.Do(ctx, func(s *Session) error {
		var err error
		page, err = s.FetchSalesTable(ctx)
		return err
	})
	return page, err
}

// AddBonus открывает сессию и начисляет клиенту бонусы по телефону.
func (c *Client) AddBonus(ctx context.Context, phone string, amount int, note string) error {
	return c.Do(ctx, func(s *Session) error {
		return s.AddBonus(ctx, phone, amount, note)
	})
}

// Open сообщает, открыта ли сейчас сессия.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.http != nil
}

func (c *Client) newHTTP() *resty.Client {
	host := ""
	if u, err := url.Parse(c.baseURL); err == nil {
		host = u.Hostname()
	}

	httpClient := resty.New()
	httpClient.SetCookieJar(c.jar)
	httpClient.SetTimeout(requestTimeout)
	httpClient.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(maxRedirects),
		resty.DomainCheckRedirectPolicy(host),
	)
	return httpClient
}

func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.users--
	if c.users > 0 || c.http == nil {
		return
	}
	c.http.GetClient().CloseIdleConnections()
	c.http = nil
	c.users = 0
}

// Session представляет открытую сессию терминала.
type Session struct {
	client *Client
	http   *resty.Client
	once   sync.Once
}

// Release возвращает сессию клиенту. Последний Release закрывает соединения.
func (s *Session) Release() {
	s.once.Do(s.client.release)
}

// EnsureAuthenticated проверяет сессию и при необходимости логинится заново.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	c := s.client
	c.authMu.Lock()
	defer c.authMu.Unlock()

	ok, err := s.CheckLogin(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if err := s.login(ctx); err != nil {
		return err
	}

	ok, err = s.CheckLogin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session is not authorized after login", ErrAuthentication)
	}
	return nil
}

// CheckLogin открывает корень панели и проверяет, что сервер оставил нас в админке.
func (s *Session) CheckLogin(ctx context.Context) (bool, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(s.client.baseURL)
	if err := checkResponse("check login", res, err); err != nil {
		return false, err
	}
	return sameURL(finalURL(res), s.client.baseURL+adminPath), nil
}

func (s *Session) login(ctx context.Context) error {
	c := s.client
	loginURL := c.baseURL + loginPath

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"Login":    c.terminal.Login,
			"Password": c.terminal.Password,
		}).
		Post(loginURL)
	if err := checkResponse("login", res, err); err != nil {
		return err
	}

	if sameURL(finalURL(res), loginURL) {
		return ErrAuthentication
	}

	c.logger.Debug("terminal login successful", zap.String("url", c.baseURL))
	return nil
}

// FetchSalesTable возвращает HTML страницы с таблицей продаж.
func (s *Session) FetchSalesTable(ctx context.Context) (string, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(s.client.baseURL + tableSalesPath)
	if err := checkResponse("get table sales", res, err); err != nil {
		return "", err
	}

	s.client.logger.Debug("table sales page received", zap.Int("bytes", len(res.Body())))
	return res.String(), nil
}

type partnersResponse struct {
	Result string `json:"Result"`
}

type partnerEntry struct {
	Partner struct {
		ID int64 `json:"Id"`
	} `json:"Partner"`
}

// PartnerID ищет клиента терминала по телефону. При нескольких совпадениях берётся первое.
func (s *Session) PartnerID(ctx context.Context, phone string) (int64, error) {
	if !validation.IsValidPhone(phone) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPhone, phone)
	}
	formatted := validation.FormatPhone(validation.NormalizePhone(phone))

	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"Phone":      formatted,
			"moduleName": bonusModuleName,
		}).
		Get(s.client.baseURL + partnersPath)
	if err := checkResponse("get partners", res, err); err != nil {
		return 0, err
	}

	var resp partnersResponse
	if err := json.Unmarshal(res.Body(), &resp); err != nil {
		return 0, fmt.Errorf("decode partners response: %w", err)
	}

	payload := strings.TrimSpace(resp.Result)
	if payload == "" || payload == "null" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPartner, phone)
	}

	var partners []partnerEntry
	if err := json.Unmarshal([]byte(payload), &partners); err != nil {
		return 0, fmt.Errorf("decode partners payload: %w", err)
	}
	if len(partners) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPartner, phone)
	}

	return partners[0].Partner.ID, nil
}

// AddBonus начисляет (или списывает при отрицательном amount) бонусы клиенту с указанным телефоном.
func (s *Session) AddBonus(ctx context.Context, phone string, amount int, note string) error {
	partnerID, err := s.PartnerID(ctx, phone)
	if err != nil {
		return err
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"IdPartnerCore": strconv.FormatInt(partnerID, 10),
			"BonusCount":    strconv.Itoa(amount),
			"Comment":       note,
		}).
		Post(s.client.baseURL + bonusPath)
	if err := checkResponse("create bonus change", res, err); err != nil {
		return err
	}

	s.client.logger.Info("bonus change created",
		zap.Int64("partner", partnerID),
		zap.Int("amount", amount),
	)
	return nil
}

func checkResponse(op string, res *resty.Response, err error) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if !res.IsSuccess() {
		return &TransportError{Op: op, StatusCode: res.StatusCode()}
	}
	return nil
}

func finalURL(res *resty.Response) string {
	if res == nil || res.RawResponse == nil || res.RawResponse.Request == nil {
		return ""
	}
	return res.RawResponse.Request.URL.String()
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
