package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thomaskoefod/trendframe/internal/config"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Translate(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "ko", DetectLanguage("서울 집값 상승"))
	assert.Equal(t, "ko", DetectLanguage("Go 1.26 출시"))
	assert.Equal(t, "en", DetectLanguage("Go 1.26 released"))
	assert.Equal(t, "en", DetectLanguage("東京のニュース"))
	assert.Equal(t, "en", DetectLanguage(""))
}

func TestNoop(t *testing.T) {
	assert.Equal(t, Result{}, Noop{}.Translate(context.Background(), "anything"))
}

func TestRetrying_SucceedsAfterFailures(t *testing.T) {
	p := new(mockProvider)
	p.On("Translate", mock.Anything, "Hello").Return("", errors.New("503")).Twice()
	p.On("Translate", mock.Anything, "Hello").Return("안녕", nil).Once()

	r := NewRetrying(p, 2, time.Second, 0, nil)
	got := r.Translate(context.Background(), "Hello")

	assert.Equal(t, Result{Text: "안녕", OK: true}, got)
	p.AssertNumberOfCalls(t, "Translate", 3)
}

func TestRetrying_GivesUpAfterBoundedAttempts(t *testing.T) {
	p := new(mockProvider)
	p.On("Translate", mock.Anything, "Hello").Return("", errors.New("timeout"))

	got := NewRetrying(p, 1, time.Second, 0, nil).Translate(context.Background(), "Hello")

	assert.False(t, got.OK)
	p.AssertNumberOfCalls(t, "Translate", 2)
}

func TestRetrying_EmptyAnswerIsNotRetried(t *testing.T) {
	p := new(mockProvider)
	p.On("Translate", mock.Anything, "Hello").Return("", nil)

	got := NewRetrying(p, 3, time.Second, 0, nil).Translate(context.Background(), "Hello")

	assert.False(t, got.OK)
	p.AssertNumberOfCalls(t, "Translate", 1)
}

func TestRetrying_PerAttemptTimeout(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	start := time.Now()
	got := NewRetrying(slow, 1, 20*time.Millisecond, 0, nil).Translate(context.Background(), "x")

	assert.False(t, got.OK)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetrying_CancelledContext(t *testing.T) {
	p := new(mockProvider)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewRetrying(p, 3, time.Second, 1, nil).Translate(ctx, "Hello")

	assert.False(t, got.OK)
	p.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything)
}

func TestDeepLProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "DeepL-Auth-Key k3y", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "KO", r.PostForm.Get("target_lang"))

		if r.PostForm.Get("text") == "empty" {
			fmt.Fprint(w, `{"translations":[]}`)
			return
		}
		fmt.Fprintf(w, `{"translations":[{"detected_source_language":"EN","text":"번역: %s"}]}`, r.PostForm.Get("text"))
	}))
	defer srv.Close()

	p := NewDeepLProvider(srv.URL, "k3y")

	out, err := p.Translate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "번역: Hello", out)

	_, err = p.Translate(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNoTranslation)
}

func TestDeepLProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", 456)
	}))
	defer srv.Close()

	_, err := NewDeepLProvider(srv.URL, "k").Translate(context.Background(), "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "456")
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "Rust 2.0 announced")

		json.NewEncoder(w).Encode(GenerateResponse{Response: "  \"러스트 2.0 발표\"\n"})
	}))
	defer srv.Close()

	out, err := NewOllamaProvider(srv.URL+"/", "llama3.1").Translate(context.Background(), "Rust 2.0 announced")
	require.NoError(t, err)
	assert.Equal(t, "러스트 2.0 발표", out)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Translation.Timeout = "1s"

	cfg.Translation.Provider = "none"
	tr, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, tr)

	cfg.Translation.Provider = "deepl"
	tr, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, tr, "no API key")

	cfg.DeepL.APIKey = "k"
	tr, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Retrying{}, tr)

	cfg.Translation.Timeout = "soon"
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
