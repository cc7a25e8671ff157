package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/nalgeon/be"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/dhcgn/mail-export/state"
)

const sampleEML = "From: alice@example.com\r\nSubject: hi\r\n\r\nhello\r\n"

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewProvider(context.Background(), nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	be.Err(t, err, nil)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestProvider_ListMessageIDs(t *testing.T) {
	var gotQuery map[string][]string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		be.Equal(t, r.URL.Path, "/gmail/v1/users/me/messages")
		gotQuery = r.URL.Query()
		writeJSON(w, map[string]any{
			"messages":      []map[string]string{{"id": "m1", "threadId": "t1"}, {"id": "m2", "threadId": "t1"}},
			"nextPageToken": "page-2",
		})
	})

	page, err := p.ListMessageIDs(context.Background(), "Label_1", 2, "page-1")
	be.Err(t, err, nil)
	be.Equal(t, page.IDs, []string{"m1", "m2"})
	be.Equal(t, page.NextPageToken, "page-2")
	be.Equal(t, gotQuery["labelIds"], []string{"Label_1"})
	be.Equal(t, gotQuery["maxResults"], []string{"2"})
	be.Equal(t, gotQuery["pageToken"], []string{"page-1"})
}

func TestProvider_GetRawMessage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		be.Equal(t, r.URL.Path, "/gmail/v1/users/me/messages/m1")
		be.Equal(t, r.URL.Query().Get("format"), "raw")
		writeJSON(w, map[string]string{
			"id":  "m1",
			"raw": base64.URLEncoding.EncodeToString([]byte(sampleEML)),
		})
	})

	raw, err := p.GetRawMessage(context.Background(), "m1")
	be.Err(t, err, nil)
	be.Equal(t, string(raw), sampleEML)
}

func TestProvider_APIErrorCarriesStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	})

	_, err := p.GetRawMessage(context.Background(), "gone")
	be.Err(t, err, "status 404")
}

func TestProvider_Labels(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		be.Equal(t, r.URL.Path, "/gmail/v1/users/me/labels")
		writeJSON(w, map[string]any{
			"labels": []map[string]string{
				{"id": "INBOX", "name": "INBOX"},
				{"id": "Label_8860527106742868850", "name": "Receipts"},
			},
		})
	})

	labels, err := p.Labels(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, len(labels), 2)
	be.Equal(t, labels[1].Name, "Receipts")
	be.Equal(t, labels[1].ID, "Label_8860527106742868850")
}

func TestDecodeRaw(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte("ab?"))
	unpadded := base64.RawURLEncoding.EncodeToString([]byte("ab"))

	got, err := DecodeRaw(padded)
	be.Err(t, err, nil)
	be.Equal(t, string(got), "ab?")

	got, err = DecodeRaw(unpadded)
	be.Err(t, err, nil)
	be.Equal(t, string(got), "ab")

	_, err = DecodeRaw("")
	be.Err(t, err, ErrEmptyRaw)

	_, err = DecodeRaw("!!not base64!!")
	be.Err(t, err, "decode raw message")
}

type memoryTokens struct {
	tok   *oauth2.Token
	saves int
}

func (m *memoryTokens) Load() (*oauth2.Token, error) {
	if m.tok == nil {
		return nil, state.ErrTokenNotFound
	}
	return m.tok, nil
}

func (m *memoryTokens) Save(tok *oauth2.Token) error {
	m.tok = tok
	m.saves++
	return nil
}

func TestTokenSource_UsesStoredToken(t *testing.T) {
	tokens := &memoryTokens{tok: &oauth2.Token{AccessToken: "stored", TokenType: "Bearer"}}
	login := func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		t.Fatal("login must not run when a valid token is stored")
		return nil, nil
	}

	src, err := TokenSource(context.Background(), &oauth2.Config{}, tokens, login, nil)
	be.Err(t, err, nil)

	tok, err := src.Token()
	be.Err(t, err, nil)
	be.Equal(t, tok.AccessToken, "stored")
	be.Equal(t, tokens.saves, 0)
}

func TestTokenSource_LogsInWhenMissing(t *testing.T) {
	tokens := &memoryTokens{}
	login := func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "fresh", RefreshToken: "r"}, nil
	}

	src, err := TokenSource(context.Background(), &oauth2.Config{}, tokens, login, nil)
	be.Err(t, err, nil)

	tok, err := src.Token()
	be.Err(t, err, nil)
	be.Equal(t, tok.AccessToken, "fresh")
	be.Equal(t, tokens.saves, 1)
}

func TestTokenSource_LoginFailure(t *testing.T) {
	login := func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		return nil, errors.New("user closed the browser")
	}

	_, err := TokenSource(context.Background(), &oauth2.Config{}, &memoryTokens{}, login, nil)
	be.Err(t, err, "interactive login")
}

func TestLoadOAuthConfig(t *testing.T) {
	path := t.TempDir() + "/credentials.json"
	secrets := `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	be.Err(t, os.WriteFile(path, []byte(secrets), 0o600), nil)

	cfg, err := LoadOAuthConfig(path)
	be.Err(t, err, nil)
	be.Equal(t, cfg.ClientID, "id.apps.googleusercontent.com")
	be.True(t, strings.HasSuffix(cfg.Scopes[0], "gmail.readonly"))

	_, err = LoadOAuthConfig(t.TempDir() + "/missing.json")
	be.Err(t, err, "read client credentials")
}
