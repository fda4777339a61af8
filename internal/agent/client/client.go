// Package client talks to the tracking API on behalf of the agent. Every
// call carries the bearer token and is retried once after a token refresh
// when the server answers 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
)

// TokenStore provides and persists the bearer token pair.
type TokenStore interface {
	Tokens() (access, refresh string)
	SaveTokens(access, refresh string) error
}

// ErrUnauthorized is returned when a call is rejected and refreshing the
// token did not help.
var ErrUnauthorized = errors.New("client: unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error %d", e.Status)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

// IsTransient reports whether err is worth retrying later unchanged:
// network failures, timeouts, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue) || errors.Is(err, context.DeadlineExceeded)
}

// Client is the agent-side API client.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

// New returns a Client. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client, tokens TokenStore) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

type requestOptions struct {
	gzip bool
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, opts requestOptions) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = raw
		if opts.gzip {
			if payload, err = compress(raw); err != nil {
				return err
			}
		}
	}

	access, refresh := c.tokens.Tokens()
	res, err := c.send(ctx, method, path, payload, access, opts)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusUnauthorized && refresh != "" {
		drain(res)
		newAccess, rerr := c.refresh(ctx, refresh)
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, rerr)
		}
		if res, err = c.send(ctx, method, path, payload, newAccess, opts); err != nil {
			return err
		}
	}
	defer drain(res)

	if res.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrUnauthorized, readStatusError(res))
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readStatusError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, opts requestOptions) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		if opts.gzip {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	raw, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", err
	}
	res, err := c.send(ctx, http.MethodPost, "/auth/refresh", raw, "", requestOptions{})
	if err != nil {
		return "", err
	}
	defer drain(res)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", readStatusError(res)
	}
	var pair tokenPair
	if err := json.NewDecoder(res.Body).Decode(&pair); err != nil {
		return "", err
	}
	if pair.AccessToken == "" {
		return "", errors.New("refresh returned no access token")
	}
	if err := c.tokens.SaveTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// LoginResult is the identity returned by the auth service.
type LoginResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TenantID     string `json:"tenantId"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password, tenantID string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password, "tenantId": tenantID}
	if err := c.call(ctx, http.MethodPost, "/auth/login", body, &out, requestOptions{}); err != nil {
		return nil, err
	}
	if err := c.tokens.SaveTokens(out.AccessToken, out.RefreshToken); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubjectOf returns the unverified sub claim of an access token.
func SubjectOf(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// ActivityEvent is one segment in a batch upload.
type ActivityEvent struct {
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	AppName     string    `json:"appName"`
	WindowTitle *string   `json:"windowTitle,omitempty"`
	URL         *string   `json:"url,omitempty"`
	DeviceID    *string   `json:"deviceId,omitempty"`
	Idle        bool      `json:"idle"`
}

// SubmitBatch uploads events gzip-compressed and returns the inserted count.
func (c *Client) SubmitBatch(ctx context.Context, events []ActivityEvent) (int, error) {
	var out struct {
		Inserted int `json:"inserted"`
	}
	body := struct {
		Events []ActivityEvent `json:"events"`
	}{Events: events}
	if err := c.call(ctx, http.MethodPost, "/activity/batch", body, &out, requestOptions{gzip: true}); err != nil {
		return 0, err
	}
	return out.Inserted, nil
}

// Presigned is an upload target handed out by the server.
type Presigned struct {
	ScreenshotID string     `json:"screenshotId"`
	UploadURL    string     `json:"uploadUrl"`
	StorageKey   string     `json:"storageKey"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// Presign requests a fresh upload target.
func (c *Client) Presign(ctx context.Context, deviceID *string, takenAt time.Time) (*Presigned, error) {
	body := struct {
		DeviceID *string   `json:"deviceId,omitempty"`
		TakenAt  time.Time `json:"takenAt"`
	}{DeviceID: deviceID, TakenAt: takenAt.UTC()}
	var out Presigned
	if err := c.call(ctx, http.MethodPost, "/screenshots/presign", body, &out, requestOptions{}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload PUTs the image bytes to a presigned URL. No bearer token is sent.
func (c *Client) Upload(ctx context.Context, uploadURL string, image []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(image))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(res)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readStatusError(res)
	}
	return nil
}

// Complete confirms an upload with its size.
func (c *Client) Complete(ctx context.Context, screenshotID string, sizeBytes int64) error {
	body := map[string]int64{"sizeBytes": sizeBytes}
	return c.call(ctx, http.MethodPost, "/screenshots/complete/"+url.PathEscape(screenshotID), body, nil, requestOptions{})
}

// UploadScreenshot runs presign, upload and confirm for the file at path.
// Each call presigns anew, so a retry never reuses an earlier upload target.
func (c *Client) UploadScreenshot(ctx context.Context, path string, takenAt time.Time, deviceID *string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	target, err := c.Presign(ctx, deviceID, takenAt)
	if err != nil {
		return fmt.Errorf("presign: %w", err)
	}
	if err := c.Upload(ctx, target.UploadURL, image); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := c.Complete(ctx, target.ScreenshotID, int64(len(image))); err != nil {
		return fmt.Errorf("confirm: %w", err)
	}
	return nil
}

// RegisterDevice upserts this machine and returns its server id.
func (c *Client) RegisterDevice(ctx context.Context, name, platform string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"deviceName": name, "platform": platform}
	if err := c.call(ctx, http.MethodPost, "/devices/register", body, &out, requestOptions{}); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CaptureInterval returns the user's screenshot interval policy.
func (c *Client) CaptureInterval(ctx context.Context, userID string) (time.Duration, error) {
	var out struct {
		IntervalSeconds int `json:"intervalSeconds"`
	}
	if err := c.call(ctx, http.MethodGet, "/policies/capture/"+url.PathEscape(userID), nil, &out, requestOptions{}); err != nil {
		return 0, err
	}
	if out.IntervalSeconds <= 0 {
		return 0, errors.New("capture policy has no interval")
	}
	return time.Duration(out.IntervalSeconds) * time.Second, nil
}

// StartTime clocks in on deviceID.
func (c *Client) StartTime(ctx context.Context, deviceID *string) error {
	body := struct {
		DeviceID *string `json:"deviceId,omitempty"`
	}{DeviceID: deviceID}
	return c.call(ctx, http.MethodPost, "/time/start", body, nil, requestOptions{})
}

// StopTime clocks out.
func (c *Client) StopTime(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/time/stop", struct{}{}, nil, requestOptions{})
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readStatusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &StatusError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	res.Body.Close()
}
