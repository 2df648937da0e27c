// client.go — HTTP client for the external video host.
//
// The host's API has three quirks this client absorbs so the pipeline never
// sees them: short-lived bearer tokens minted from the API key, an account
// endpoint whose quota field names have drifted across deployments, and an
// upload endpoint that requires an exact Content-Length.
package vidhost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// QuotaInfo is the normalized account quota. Every figure is "remaining",
// never "used": the pipeline only asks whether another upload fits.
type QuotaInfo struct {
	StorageLeftBytes int64
	DailyLeftBytes   int64
	UploadSlotsLeft  int64
}

// FieldMap lists candidate JSON field names per quota figure, checked in
// order. Comes from service configuration.
type FieldMap struct {
	StorageLeft []string
	DailyLeft   []string
	UploadSlots []string
}

// Client talks to one video host account.
type Client struct {
	baseURL string
	apiKey  string
	fields  FieldMap
	http    *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New builds a client. baseURL must not end with a slash.
func New(baseURL, apiKey string, fields FieldMap) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fields:  fields,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// tokenResponse is the host's auth reply.
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// bearer returns a valid token, refreshing when the cached one is within a
// minute of expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	body := strings.NewReader(fmt.Sprintf(`{"api_key":%q}`, c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vidhost auth: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vidhost auth: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("vidhost auth: decode: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("vidhost auth: empty token")
	}
	c.token = tr.Token
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.token, nil
}

// AccountInfo fetches and normalizes the account quota.
func (c *Client) AccountInfo(ctx context.Context) (QuotaInfo, error) {
	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, "/account", &raw); err != nil {
		return QuotaInfo{}, err
	}

	q := QuotaInfo{}
	var err error
	if q.StorageLeftBytes, err = pickNumber(raw, c.fields.StorageLeft); err != nil {
		return QuotaInfo{}, fmt.Errorf("vidhost account: storage quota: %w", err)
	}
	if q.DailyLeftBytes, err = pickNumber(raw, c.fields.DailyLeft); err != nil {
		return QuotaInfo{}, fmt.Errorf("vidhost account: daily quota: %w", err)
	}
	if q.UploadSlotsLeft, err = pickNumber(raw, c.fields.UploadSlots); err != nil {
		return QuotaInfo{}, fmt.Errorf("vidhost account: upload slots: %w", err)
	}
	return q, nil
}

// uploadResponse is the host's upload reply.
type uploadResponse struct {
	Slug string `json:"slug"`
}

// Upload streams the file at path to the host and returns the assigned slug.
// The host rejects chunked transfer encoding, so the request is built from a
// file whose length is known up front.
func (c *Client) Upload(ctx context.Context, path, filename, contentType string, size int64) (string, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("vidhost upload: open: %w", err)
	}
	defer f.Close()

	// Multipart framing is built around the file without buffering it: the
	// prologue and epilogue are rendered separately and the three parts are
	// concatenated, so Content-Length is exact.
	var prologue strings.Builder
	mw := multipart.NewWriter(&prologue)
	if err := mw.WriteField("filename", filename); err != nil {
		return "", err
	}
	if err := mw.WriteField("content_type", contentType); err != nil {
		return "", err
	}
	fmt.Fprintf(&prologue, "\r\n--%s\r\nContent-Disposition: form-data; name=%q; filename=%q\r\nContent-Type: %s\r\n\r\n",
		mw.Boundary(), "file", filename, contentType)
	epilogue := fmt.Sprintf("\r\n--%s--\r\n", mw.Boundary())

	bodyLen := int64(prologue.Len()) + size + int64(len(epilogue))
	body := io.MultiReader(strings.NewReader(prologue.String()), f, strings.NewReader(epilogue))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = bodyLen

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vidhost upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("vidhost upload: status %d", resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("vidhost upload: decode: %w", err)
	}
	if ur.Slug == "" {
		return "", fmt.Errorf("vidhost upload: empty slug")
	}
	return ur.Slug, nil
}

// slugResponse is the host's per-video status reply.
type slugResponse struct {
	Status string `json:"status"` // "ready" once transcoded
}

// SlugStatus reports whether the video behind slug is ready for playback.
func (c *Client) SlugStatus(ctx context.Context, slug string) (bool, error) {
	var sr slugResponse
	if err := c.getJSON(ctx, "/videos/"+slug, &sr); err != nil {
		return false, err
	}
	return sr.Status == "ready", nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vidhost get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vidhost get %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pickNumber returns the first candidate field present in raw, decoded as an
// integer. JSON numbers and numeric strings are both accepted.
func pickNumber(raw map[string]json.RawMessage, candidates []string) (int64, error) {
	for _, name := range candidates {
		msg, ok := raw[name]
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(msg, &n); err == nil {
			return n, nil
		}
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			var v int64
			if _, err := fmt.Sscan(s, &v); err == nil {
				return v, nil
			}
		}
		return 0, fmt.Errorf("field %q is not numeric", name)
	}
	return 0, fmt.Errorf("none of %v present in response", candidates)
}
