// Package testutil provides common test utilities and helpers for PizzaPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/catalog"
	"github.com/BTreeMap/PizzaPipe/internal/intent"
	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/order"
	"github.com/BTreeMap/PizzaPipe/internal/store"
)

// NewEngine builds a conversation engine from the embedded catalog and menu.
func NewEngine(t testing.TB) *intent.Engine {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load failed: %v", err)
	}
	menu, err := order.LoadMenu()
	if err != nil {
		t.Fatalf("order.LoadMenu failed: %v", err)
	}
	engine, err := intent.NewEngine(cat, menu)
	if err != nil {
		t.Fatalf("intent.NewEngine failed: %v", err)
	}
	return engine
}

// NewManager creates a dialogue manager backed by a fresh in-memory store,
// which is returned for assertions.
func NewManager(t testing.TB, opts ...intent.Option) (*intent.Manager, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return intent.NewManager(NewEngine(t), st, st, opts...), st
}

// SeedUser registers a complete user for phone.
func SeedUser(t testing.TB, st store.UserStore, phone, name string) models.User {
	t.Helper()
	user := models.User{
		ID:          "u-" + strings.TrimPrefix(phone, "+"),
		PhoneNumber: phone,
		Name:        name,
		Email:       strings.ToLower(name) + "@example.com",
		Address:     "Rua Augusta, 100",
		Birthdate:   "01/02/1990",
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user %s: %v", phone, err)
	}
	return user
}

// NewTwilioRequest builds a form-encoded Twilio messaging webhook call.
// An empty sid leaves MessageSid out.
func NewTwilioRequest(target, from, body, sid string) *http.Request {
	form := url.Values{}
	form.Set("From", from)
	form.Set("Body", body)
	if sid != "" {
		form.Set("MessageSid", sid)
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, response.Status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, target string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	return httptest.NewRequest(method, target, reqBody)
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
