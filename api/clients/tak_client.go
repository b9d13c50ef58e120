package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/stretchr/testify/mock"
)

// TakClient implements interfaces.TakAPI.
type TakClient struct {
	// BaseURL is scheme, host and port of the TAK management API.
	BaseURL string

	httpClient *retryablehttp.Client
	log        *slog.Logger
	now        func() time.Time
}

// NewTakHTTPClient builds the mTLS transport used for the TAK server.
func NewTakHTTPClient(cert tls.Certificate) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = takTLSConfig(cert)
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// NewTakClient returns a client that does not retry; TAK calls are issued
// from idempotent startup steps that check state first.
func NewTakClient(baseURL string, httpClient *http.Client, log *slog.Logger) *TakClient {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = 0
	rc.Logger = log

	return &TakClient{
		BaseURL:    baseURL,
		httpClient: rc,
		log:        log,
		now:        time.Now,
	}
}

// WaitReady polls the user list until the TAK API answers at all, making
// up to attempts requests spaced by interval.
func (c *TakClient) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = c.httpClient.HTTPClient
	rc.RetryMax = attempts - 1
	rc.RetryWaitMin = interval
	rc.RetryWaitMax = interval
	rc.Backoff = func(wait, _ time.Duration, _ int, _ *http.Response) time.Duration { return wait }
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if attempt > 0 {
			c.log.Info("TAK API not ready yet. Waiting...", "attempt", attempt)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/user-management/api/list-users", nil)
	if err != nil {
		return err
	}
	resp, err := rc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: TAK API did not become ready: %v", interfaces.ErrTimeout, err)
	}
	resp.Body.Close()

	c.log.Info("TAK API responding, moving on...")
	return nil
}

// ListUsers returns the TAK user list.
func (c *TakClient) ListUsers(ctx context.Context) interfaces.Result {
	return c.do(ctx, http.MethodGet, "/user-management/api/list-users", nil, "", http.StatusOK)
}

// GetMission returns a mission by name.
func (c *TakClient) GetMission(ctx context.Context, name string) interfaces.Result {
	return c.do(ctx, http.MethodGet, "/Marti/api/missions/"+url.PathEscape(name), nil, "", http.StatusOK)
}

// PutMission creates a public mission in the default group.
func (c *TakClient) PutMission(ctx context.Context, name, description, defaultRole string) interfaces.Result {
	q := url.Values{}
	q.Set("group", "default")
	q.Set("description", description)
	q.Set("tool", "public")
	q.Set("defaultRole", defaultRole)
	q.Set("inviteOnly", "false")
	q.Set("allowGroupChange", "false")

	body, _ := json.Marshal("string")
	return c.do(ctx, http.MethodPut, "/Marti/api/missions/"+url.PathEscape(name)+"?"+q.Encode(), body, "application/json", http.StatusCreated)
}

// PutMissionKeywords sets the keywords of a mission.
func (c *TakClient) PutMissionKeywords(ctx context.Context, name string, keywords []string) interfaces.Result {
	body, err := json.Marshal(keywords)
	if err != nil {
		return interfaces.Result{}
	}
	return c.do(ctx, http.MethodPut, "/Marti/api/missions/"+url.PathEscape(name)+"/keywords", body, "application/json", http.StatusOK)
}

// GetDeviceProfile returns a device profile. A missing profile is reported
// by the server as data.status == "NOT_FOUND".
func (c *TakClient) GetDeviceProfile(ctx context.Context, name string) interfaces.Result {
	return c.do(ctx, http.MethodGet, "/Marti/api/device/profile/"+url.PathEscape(name), nil, "", http.StatusOK)
}

// GetDeviceProfileFiles returns the files attached to a device profile.
func (c *TakClient) GetDeviceProfileFiles(ctx context.Context, name string) interfaces.Result {
	return c.do(ctx, http.MethodGet, "/Marti/api/device/profile/"+url.PathEscape(name)+"/files", nil, "", http.StatusOK)
}

// AddDeviceProfile creates a device profile for the given groups.
func (c *TakClient) AddDeviceProfile(ctx context.Context, name string, groups []string) interfaces.Result {
	q := url.Values{}
	for _, g := range groups {
		q.Add("group", g)
	}
	return c.do(ctx, http.MethodPost, "/Marti/api/device/profile/"+url.PathEscape(name)+"?"+q.Encode(), nil, "", http.StatusCreated)
}

// UpdateDeviceProfile replaces the attributes of an existing profile. The
// profile id is read from the server first.
func (c *TakClient) UpdateDeviceProfile(ctx context.Context, name string, profile interfaces.DeviceProfile) interfaces.Result {
	current := c.GetDeviceProfile(ctx, name)
	id, ok := ProfileID(current)
	if !ok {
		c.log.Warn("Device profile has no id, cannot update", "profile", name)
		return interfaces.Result{Success: false, Data: current.Data, Status: current.Status}
	}

	var tool any
	if profile.Tool != "" {
		tool = profile.Tool
	}
	body, err := json.Marshal(map[string]any{
		"id":                id,
		"name":              name,
		"active":            profile.Active,
		"applyOnConnect":    profile.ApplyOnConnect,
		"applyOnEnrollment": profile.ApplyOnEnrollment,
		"type":              profile.Type,
		"tool":              tool,
		"updated":           strconv.FormatInt(c.now().Unix(), 10),
		"groups":            profile.Groups,
	})
	if err != nil {
		return interfaces.Result{}
	}
	return c.do(ctx, http.MethodPut, "/Marti/api/device/profile/"+url.PathEscape(name), body, "application/json", http.StatusOK)
}

// UploadProfileFile attaches a file to a device profile.
func (c *TakClient) UploadProfileFile(ctx context.Context, profile, filename string, body io.Reader) interfaces.Result {
	data, err := io.ReadAll(body)
	if err != nil {
		c.log.Error("Failed to read profile file body", "filename", filename, "err", err)
		return interfaces.Result{}
	}
	q := url.Values{}
	q.Set("filename", filename)
	return c.do(ctx, http.MethodPut, "/Marti/api/device/profile/"+url.PathEscape(profile)+"/file?"+q.Encode(), data, "", http.StatusOK)
}

func (c *TakClient) do(ctx context.Context, method, path string, body []byte, contentType string, expected int) interfaces.Result {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		c.log.Error("Failed to build TAK request", "path", path, "err", err)
		return interfaces.Result{}
	}
	req.Header.Set("Accept", "*/*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("TAK request failed", "method", method, "path", path, "err", err)
		return interfaces.Result{}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.Result{Status: resp.StatusCode}
	}

	var data any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			c.log.Warn("TAK answered with a non-JSON body", "method", method, "path", path, "status", resp.StatusCode)
			return interfaces.Result{Status: resp.StatusCode}
		}
	}

	if resp.StatusCode != expected {
		c.log.Info("Unexpected TAK response", "method", method, "path", path, "status", resp.StatusCode, "body", string(raw))
	}
	return interfaces.Result{Success: true, Data: data, Status: resp.StatusCode}
}

// Payload returns the "data" member of a TAK response envelope.
func Payload(r interfaces.Result) (any, bool) {
	m, ok := r.Data.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m["data"]
	return v, ok
}

// ProfileID extracts data.id from a device profile answer.
func ProfileID(r interfaces.Result) (any, bool) {
	p, ok := Payload(r)
	if !ok {
		return nil, false
	}
	m, ok := p.(map[string]any)
	if !ok {
		return nil, false
	}
	id, ok := m["id"]
	return id, ok && id != nil
}

// ProfileNotFound reports whether a device profile answer says NOT_FOUND.
func ProfileNotFound(r interfaces.Result) bool {
	m, ok := r.Data.(map[string]any)
	if !ok {
		return false
	}
	return m["status"] == "NOT_FOUND"
}

// FileInProfile reports whether a profile file listing contains name.
func FileInProfile(files interfaces.Result, name string) bool {
	p, ok := Payload(files)
	if !ok {
		return false
	}
	list, ok := p.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && m["name"] == name {
			return true
		}
	}
	return false
}

// MockTakAPI implements interfaces.TakAPI for testing.
type MockTakAPI struct {
	mock.Mock
}

func (m *MockTakAPI) ListUsers(ctx context.Context) interfaces.Result {
	return m.Called(ctx).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) GetMission(ctx context.Context, name string) interfaces.Result {
	return m.Called(ctx, name).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) PutMission(ctx context.Context, name, description, defaultRole string) interfaces.Result {
	return m.Called(ctx, name, description, defaultRole).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) PutMissionKeywords(ctx context.Context, name string, keywords []string) interfaces.Result {
	return m.Called(ctx, name, keywords).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) GetDeviceProfile(ctx context.Context, name string) interfaces.Result {
	return m.Called(ctx, name).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) GetDeviceProfileFiles(ctx context.Context, name string) interfaces.Result {
	return m.Called(ctx, name).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) AddDeviceProfile(ctx context.Context, name string, groups []string) interfaces.Result {
	return m.Called(ctx, name, groups).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) UpdateDeviceProfile(ctx context.Context, name string, profile interfaces.DeviceProfile) interfaces.Result {
	return m.Called(ctx, name, profile).Get(0).(interfaces.Result)
}

func (m *MockTakAPI) UploadProfileFile(ctx context.Context, profile, filename string, body io.Reader) interfaces.Result {
	data, _ := io.ReadAll(body)
	return m.Called(ctx, profile, filename, data).Get(0).(interfaces.Result)
}
