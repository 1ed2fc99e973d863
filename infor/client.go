// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package infor implements a client for the Infor CloudSuite Industrial IDO
// request service.
package infor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default infor errs class.
	Error = errs.Class("infor")
	// ErrForbiddenConfig means the configuration points at a production
	// environment.
	ErrForbiddenConfig = errs.Class("forbidden erp configuration")
	// ErrAuth means authentication against the IDO service failed.
	ErrAuth = errs.Class("erp authentication")

	mon = monkit.Package()
)

// forbiddenConfigs are ERP configuration names this client refuses to touch.
var forbiddenConfigs = []string{"LIVE", "PROD", "PRODUCTION", "SL"}

// FilterTimeFormat is the timestamp layout of the IDO filter language (UTC).
const FilterTimeFormat = "2006-01-02 15:04:05"

// Config configures the ERP client.
type Config struct {
	BaseURL    string `help:"base URL of the IDO request service"`
	ConfigName string `help:"ERP configuration (environment) name; production names are refused"`
	Username   string `help:"ERP service account user"`
	Password   string `help:"ERP service account password"`

	ListTimeout     time.Duration `help:"timeout for metadata listing requests" default:"60s"`
	DownloadTimeout time.Duration `help:"timeout for binary download requests" default:"30s"`
	TokenSlack      time.Duration `help:"how long before expiry the token is refreshed" default:"3m"`
}

// Client talks to the IDO request service. The auth token is cached
// process-wide and refreshed shortly before its stated expiry.
type Client struct {
	log    *zap.Logger
	config Config
	http   *http.Client

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	nowFn func() time.Time
}

// NewClient creates a client, refusing production configuration names.
func NewClient(log *zap.Logger, config Config) (*Client, error) {
	name := strings.ToUpper(strings.TrimSpace(config.ConfigName))
	for _, forbidden := range forbiddenConfigs {
		if name == forbidden {
			return nil, ErrForbiddenConfig.New("%q is a production configuration", config.ConfigName)
		}
	}
	if config.BaseURL == "" {
		return nil, Error.New("base URL is required")
	}
	if config.ListTimeout == 0 {
		config.ListTimeout = 60 * time.Second
	}
	if config.DownloadTimeout == 0 {
		config.DownloadTimeout = 30 * time.Second
	}
	if config.TokenSlack == 0 {
		config.TokenSlack = 3 * time.Minute
	}

	return &Client{
		log:    log,
		config: config,
		http:   &http.Client{},
		nowFn:  time.Now,
	}, nil
}

// LoadType selects the paging direction of a collection load.
type LoadType string

// Load types.
const (
	LoadFirst    LoadType = "FIRST"
	LoadNext     LoadType = "NEXT"
	LoadPrevious LoadType = "PREVIOUS"
	LoadLast     LoadType = "LAST"
)

// LoadRequest describes one collection load.
type LoadRequest struct {
	IDO        string
	Properties []string
	Filter     string
	OrderBy    string
	RecordCap  int
	LoadType   LoadType
	Bookmark   string
	Distinct   bool
}

// LoadResult is a normalized page of rows.
type LoadResult struct {
	Rows     []Row
	Bookmark string
	HasMore  bool
}

// loadResponse mirrors the wire shape; items arrive either as name/value
// objects or as positional arrays aligned with the projected properties.
type loadResponse struct {
	Items         []json.RawMessage `json:"Items"`
	Bookmark      string            `json:"Bookmark"`
	MoreRowsExist bool              `json:"MoreRowsExist"`
}

// LoadCollection fetches one page of an IDO collection.
func (client *Client) LoadCollection(ctx context.Context, req LoadRequest) (LoadResult, error) {
	return client.loadCollection(ctx, req, client.config.ListTimeout)
}

func (client *Client) loadCollection(ctx context.Context, req LoadRequest, timeout time.Duration) (_ LoadResult, err error) {
	defer mon.Task()(&ctx)(&err)

	query := url.Values{}
	query.Set("props", strings.Join(req.Properties, ","))
	if req.Filter != "" {
		query.Set("filter", req.Filter)
	}
	if req.OrderBy != "" {
		query.Set("orderby", req.OrderBy)
	}
	if req.RecordCap > 0 {
		query.Set("recordcap", strconv.Itoa(req.RecordCap))
	}
	if req.LoadType != "" {
		query.Set("loadtype", string(req.LoadType))
	}
	if req.Bookmark != "" {
		query.Set("bookmark", req.Bookmark)
	}
	if req.Distinct {
		query.Set("distinct", "true")
	}

	endpoint := fmt.Sprintf("%s/ido/load/%s?%s",
		strings.TrimRight(client.config.BaseURL, "/"), url.PathEscape(req.IDO), query.Encode())

	body, err := client.do(ctx, http.MethodGet, endpoint, nil, timeout)
	if err != nil {
		return LoadResult{}, err
	}

	var response loadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return LoadResult{}, Error.New("malformed load response for %s: %w", req.IDO, err)
	}

	rows, err := normalizeItems(response.Items, req.Properties)
	if err != nil {
		return LoadResult{}, Error.New("normalize %s rows: %w", req.IDO, err)
	}

	return LoadResult{
		Rows:     rows,
		Bookmark: response.Bookmark,
		HasMore:  response.MoreRowsExist,
	}, nil
}

// InvokeMethod calls an IDO method and returns the raw JSON document.
func (client *Client) InvokeMethod(ctx context.Context, ido, method string, parameters []string) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	payload, err := json.Marshal(map[string]interface{}{"Parameters": parameters})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	endpoint := fmt.Sprintf("%s/ido/invoke/%s/%s",
		strings.TrimRight(client.config.BaseURL, "/"), url.PathEscape(ido), url.PathEscape(method))

	body, err := client.do(ctx, http.MethodPost, endpoint, payload, client.config.ListTimeout)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// IDOInfo describes the fields of an IDO.
type IDOInfo struct {
	Name       string         `json:"Name"`
	Properties []IDOPropoInfo `json:"Properties"`
}

// IDOPropoInfo is one field description.
type IDOPropoInfo struct {
	Name     string `json:"Name"`
	DataType string `json:"DataType"`
}

// GetIDOInfo fetches field metadata for an IDO.
func (client *Client) GetIDOInfo(ctx context.Context, ido string) (_ IDOInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	endpoint := fmt.Sprintf("%s/ido/info/%s",
		strings.TrimRight(client.config.BaseURL, "/"), url.PathEscape(ido))

	body, err := client.do(ctx, http.MethodGet, endpoint, nil, client.config.ListTimeout)
	if err != nil {
		return IDOInfo{}, err
	}

	var info IDOInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return IDOInfo{}, Error.Wrap(err)
	}
	return info, nil
}

// DownloadDocument fetches and decodes the base64 DocumentObject of one
// document row.
func (client *Client) DownloadDocument(ctx context.Context, rowPointer string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := client.loadCollection(ctx, LoadRequest{
		IDO:        "SLDocumentObjects",
		Properties: []string{"RowPointer", "DocumentObject"},
		Filter:     fmt.Sprintf("RowPointer = '%s'", rowPointer),
		RecordCap:  1,
	}, client.config.DownloadTimeout)
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, Error.New("document %s has no binary object", rowPointer)
	}

	encoded := result.Rows[0].String("DocumentObject")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, Error.New("document %s: invalid base64 payload: %w", rowPointer, err)
	}
	return data, nil
}

// do performs one authenticated request with a per-request timeout.
func (client *Client) do(ctx context.Context, method, endpoint string, payload []byte, timeout time.Duration) (_ []byte, err error) {
	token, err := client.getToken(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	request.Header.Set("Authorization", token)
	request.Header.Set("X-Infor-MongooseConfig", client.config.ConfigName)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.http.Do(request)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, response.Body.Close()) }()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if response.StatusCode == http.StatusUnauthorized {
		client.invalidateToken()
		return nil, ErrAuth.New("request rejected: %s", strings.TrimSpace(string(data)))
	}
	if response.StatusCode != http.StatusOK {
		return nil, Error.New("unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

type tokenResponse struct {
	Token     string `json:"Token"`
	ExpiresIn int    `json:"ExpiresIn"`
}

// getToken returns the cached token, fetching a fresh one shortly before
// expiry.
func (client *Client) getToken(ctx context.Context) (string, error) {
	client.tokenMu.Lock()
	defer client.tokenMu.Unlock()

	if client.token != "" && client.nowFn().Before(client.tokenExpiry.Add(-client.config.TokenSlack)) {
		return client.token, nil
	}

	endpoint := fmt.Sprintf("%s/ido/token/%s/%s",
		strings.TrimRight(client.config.BaseURL, "/"),
		url.PathEscape(client.config.ConfigName),
		url.PathEscape(client.config.Username))

	ctx, cancel := context.WithTimeout(ctx, client.config.ListTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", Error.Wrap(err)
	}
	request.Header.Set("X-Infor-MongoosePassword", client.config.Password)

	response, err := client.http.Do(request)
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}
	defer func() { _ = response.Body.Close() }()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}
	if response.StatusCode != http.StatusOK {
		return "", ErrAuth.New("token request failed with status %d", response.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", ErrAuth.New("malformed token response: %v", err)
	}
	if tr.Token == "" {
		return "", ErrAuth.New("empty token")
	}

	client.token = tr.Token
	client.tokenExpiry = client.nowFn().Add(time.Duration(tr.ExpiresIn) * time.Second)
	client.log.Debug("erp token refreshed", zap.Time("expiry", client.tokenExpiry))
	return client.token, nil
}

func (client *Client) invalidateToken() {
	client.tokenMu.Lock()
	defer client.tokenMu.Unlock()
	client.token = ""
}

// FormatFilterTime renders a timestamp for the IDO filter language.
func FormatFilterTime(t time.Time) string {
	return t.UTC().Format(FilterTimeFormat)
}
