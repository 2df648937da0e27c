// helpers.go — HTTP test helpers for calling service endpoints.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
)

// PostJSON makes a POST request with a JSON body to the given handler.
// Returns the response recorder for assertion.
func PostJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// GetJSON makes a GET request to the given handler.
func GetJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// Do makes a request with an optional Bearer token and no body.
func Do(t *testing.T, handler http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// MultipartField is one part of a multipart request: either a plain form
// field (File == nil) or a file part.
type MultipartField struct {
	Name        string
	Value       string
	Filename    string
	ContentType string
	File        []byte
}

// PostMultipart makes a POST request with a multipart/form-data body built
// from fields, in order.
func PostMultipart(t *testing.T, handler http.Handler, path, token string, fields []MultipartField) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.File == nil {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				t.Fatalf("write field %s: %v", f.Name, err)
			}
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Name, f.Filename))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part %s: %v", f.Name, err)
		}
		if _, err := part.Write(f.File); err != nil {
			t.Fatalf("write part %s: %v", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode JSON response (status %d, body: %s): %v", rr.Code, string(body), err)
	}
}

// AssertStatus fails the test if the response code does not match expected.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Fatalf("expected status %d, got %d (body: %s)", expected, rr.Code, rr.Body.String())
	}
}
