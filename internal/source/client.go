// Package source は外部スクロブルサービス（Last.fm互換API）のクライアントを提供する。
// 全期間トップリストのページング取得と直近の再生履歴の取得を含む。
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/chartman/internal/model"
)

// 外部APIのエラーコード。
const (
	apiErrUserNotFound = 6
	apiErrRateLimited  = 29
)

// CallCounter はAPI呼び出し回数の記録インターフェース。
// メトリクス収集側が実装する。
type CallCounter interface {
	RecordAPICall(method string)
}

// Client は外部スクロブルサービスのAPIクライアント。
// レートリミッターを内蔵し、並行する同期ジョブ間で安全に共有できる。
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	counter    CallCounter
	apiKey     string
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// Config はClientの設定パラメータ。
type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // req/sec
	RateBurst int
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(cfg Config, logger *slog.Logger, counter CallCounter) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2.0
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:     logger,
		counter:    counter,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}
}

// TopArtists は指定ユーザーの全期間トップアーティストを1ページ分取得する。
// hasMoreは次ページが存在するかどうかを示す。
func (c *Client) TopArtists(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error) {
	var body struct {
		TopArtists struct {
			Artist []struct {
				Name      string `json:"name"`
				Playcount string `json:"playcount"`
			} `json:"artist"`
			Attr pageAttr `json:"@attr"`
		} `json:"topartists"`
	}

	if err := c.call(ctx, "user.gettopartists", user, page, limit, &body); err != nil {
		return nil, false, err
	}

	entries := make([]model.TopEntry, 0, len(body.TopArtists.Artist))
	for _, a := range body.TopArtists.Artist {
		entries = append(entries, model.TopEntry{
			Name:      a.Name,
			Playcount: parseCount(a.Playcount),
		})
	}

	return entries, body.TopArtists.Attr.hasMore(page), nil
}

// TopAlbums は指定ユーザーの全期間トップアルバムを1ページ分取得する。
func (c *Client) TopAlbums(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error) {
	var body struct {
		TopAlbums struct {
			Album []struct {
				Name      string `json:"name"`
				Playcount string `json:"playcount"`
				Artist    struct {
					Name string `json:"name"`
				} `json:"artist"`
			} `json:"album"`
			Attr pageAttr `json:"@attr"`
		} `json:"topalbums"`
	}

	if err := c.call(ctx, "user.gettopalbums", user, page, limit, &body); err != nil {
		return nil, false, err
	}

	entries := make([]model.TopEntry, 0, len(body.TopAlbums.Album))
	for _, a := range body.TopAlbums.Album {
		entries = append(entries, model.TopEntry{
			Name:       a.Name,
			ArtistName: a.Artist.Name,
			Playcount:  parseCount(a.Playcount),
		})
	}

	return entries, body.TopAlbums.Attr.hasMore(page), nil
}

// TopTracks は指定ユーザーの全期間トップトラックを1ページ分取得する。
func (c *Client) TopTracks(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error) {
	var body struct {
		TopTracks struct {
			Track []struct {
				Name      string `json:"name"`
				Playcount string `json:"playcount"`
				Artist    struct {
					Name string `json:"name"`
				} `json:"artist"`
			} `json:"track"`
			Attr pageAttr `json:"@attr"`
		} `json:"toptracks"`
	}

	if err := c.call(ctx, "user.gettoptracks", user, page, limit, &body); err != nil {
		return nil, false, err
	}

	entries := make([]model.TopEntry, 0, len(body.TopTracks.Track))
	for _, t := range body.TopTracks.Track {
		entries = append(entries, model.TopEntry{
			Name:       t.Name,
			ArtistName: t.Artist.Name,
			Playcount:  parseCount(t.Playcount),
		})
	}

	return entries, body.TopTracks.Attr.hasMore(page), nil
}

// RecentTracks は指定ユーザーの直近の再生履歴を新しい順に取得する。
// 再生中（タイムスタンプなし）のエントリはスキップする。
func (c *Client) RecentTracks(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
	var body struct {
		RecentTracks struct {
			Track []struct {
				Name   string `json:"name"`
				Artist struct {
					Text string `json:"#text"`
				} `json:"artist"`
				Album struct {
					Text string `json:"#text"`
				} `json:"album"`
				Date *struct {
					UTS string `json:"uts"`
				} `json:"date"`
			} `json:"track"`
		} `json:"recenttracks"`
	}

	if err := c.call(ctx, "user.getrecenttracks", user, 1, limit, &body); err != nil {
		return nil, err
	}

	scrobbles := make([]model.Scrobble, 0, len(body.RecentTracks.Track))
	for _, t := range body.RecentTracks.Track {
		// 再生中のエントリにはdateが付かない
		if t.Date == nil {
			continue
		}
		uts, err := strconv.ParseInt(t.Date.UTS, 10, 64)
		if err != nil {
			continue
		}
		scrobbles = append(scrobbles, model.Scrobble{
			Artist:     t.Artist.Text,
			Album:      t.Album.Text,
			Track:      t.Name,
			TimePlayed: time.Unix(uts, 0).UTC(),
		})
	}

	return scrobbles, nil
}

// call はレート制限を待ってAPIを1回呼び出し、レスポンスをデコードする。
// HTTPステータスとAPIエラーコードの両方を型付きエラーに分類する。
func (c *Client) call(ctx context.Context, method, user string, page, limit int, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("レートリミッターの待機に失敗しました: %w", err)
	}

	reqURL, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("method", method)
	q.Set("user", user)
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Chartman/1.0")

	if c.counter != nil {
		c.counter.RecordAPICall(method)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("スクロブルAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		return model.NewSourceError(model.SourceErrorUnknown, method, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewSourceError(model.SourceErrorUnknown, method, fmt.Sprintf("レスポンスの読み取りに失敗: %s", err))
	}

	// APIはHTTPエラーとボディ内のエラーコードの両方でエラーを表現する
	var apiErr struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != 0 {
		return classifyAPIError(method, apiErr.Error, apiErr.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPStatus(method, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Error("スクロブルAPIのレスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return model.NewSourceError(model.SourceErrorUnknown, method, fmt.Sprintf("レスポンスJSONのパースに失敗: %s", err))
	}

	return nil
}

// pageAttr はページング情報を持つAPIレスポンスの"@attr"部。
type pageAttr struct {
	Page       string `json:"page"`
	TotalPages string `json:"totalPages"`
}

// hasMore は次ページが存在するかどうかを返す。
func (a pageAttr) hasMore(currentPage int) bool {
	total, err := strconv.Atoi(a.TotalPages)
	if err != nil {
		return false
	}
	return currentPage < total
}

// classifyAPIError はAPIエラーコードを型付きエラーに分類する。
func classifyAPIError(method string, code int, message string) *model.SourceError {
	switch code {
	case apiErrUserNotFound:
		return model.NewSourceError(model.SourceErrorNotFound, method, message)
	case apiErrRateLimited:
		return model.NewSourceError(model.SourceErrorRateLimited, method, message)
	default:
		return model.NewSourceError(model.SourceErrorUnknown, method, fmt.Sprintf("APIエラーコード %d: %s", code, message))
	}
}

// classifyHTTPStatus はHTTPステータスコードを型付きエラーに分類する。
func classifyHTTPStatus(method string, statusCode int) *model.SourceError {
	switch {
	case statusCode == http.StatusNotFound:
		return model.NewSourceError(model.SourceErrorNotFound, method, "HTTP 404")
	case statusCode == http.StatusTooManyRequests:
		return model.NewSourceError(model.SourceErrorRateLimited, method, "HTTP 429")
	default:
		return model.NewSourceError(model.SourceErrorUnknown, method, fmt.Sprintf("HTTPステータス %d", statusCode))
	}
}

// parseCount は文字列表現の再生数をint64に変換する。変換できない場合は0。
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
