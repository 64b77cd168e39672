// Package translate provides best-effort title translation into Korean.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/thomaskoefod/trendframe/internal/config"
	"github.com/thomaskoefod/trendframe/internal/metrics"
)

// ErrNoTranslation means the provider answered but had nothing to offer.
// It is not retried.
var ErrNoTranslation = errors.New("no translation returned")

// DetectLanguage returns "ko" when the title contains any Hangul syllable and
// "en" otherwise.
func DetectLanguage(title string) string {
	for _, r := range title {
		if r >= 0xAC00 && r <= 0xD7AF {
			return "ko"
		}
	}
	return "en"
}

// Result of a translation attempt. OK is false whenever no usable text came back.
type Result struct {
	Text string
	OK   bool
}

// Translator never fails the caller: problems surface as a Result with OK unset.
type Translator interface {
	Translate(ctx context.Context, text string) Result
}

// Provider is a single remote translation backend.
type Provider interface {
	Translate(ctx context.Context, text string) (string, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, text string) (string, error)

func (f ProviderFunc) Translate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Noop is the translator used when no provider is configured.
type Noop struct{}

func (Noop) Translate(context.Context, string) Result { return Result{} }

// Retrying turns a Provider into a Translator with bounded attempts, a
// per-attempt timeout and request pacing.
type Retrying struct {
	provider Provider
	attempts int
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewRetrying makes retries+1 attempts per title. ratePerSecond <= 0 disables pacing.
func NewRetrying(p Provider, retries int, timeout time.Duration, ratePerSecond float64, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Retrying{
		provider: p,
		attempts: max(1, retries+1),
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

func (r *Retrying) Translate(ctx context.Context, text string) Result {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		out, err := r.attempt(ctx, text)
		if err == nil {
			metrics.TranslationsTotal.WithLabelValues("ok").Inc()
			return Result{Text: out, OK: true}
		}
		lastErr = err
		if errors.Is(err, ErrNoTranslation) || ctx.Err() != nil {
			break
		}
		r.logger.Debug("translation attempt failed", "attempt", attempt, "error", err)
	}

	metrics.TranslationsTotal.WithLabelValues("failed").Inc()
	r.logger.Warn("translation gave up", "title", text, "error", lastErr)
	return Result{}
}

func (r *Retrying) attempt(ctx context.Context, text string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	out, err := r.provider.Translate(ctx, text)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrNoTranslation
	}
	return out, nil
}

// FromConfig builds the configured translator. Provider "none" and a DeepL
// provider without an API key both yield Noop.
func FromConfig(cfg *config.Config, logger *slog.Logger) (Translator, error) {
	timeout, err := cfg.Translation.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing translation timeout: %w", err)
	}

	var p Provider
	switch cfg.Translation.Provider {
	case "ollama":
		p = NewOllamaProvider(cfg.Ollama.Host, cfg.Ollama.Model)
	case "deepl":
		if cfg.DeepL.APIKey == "" {
			return Noop{}, nil
		}
		p = NewDeepLProvider(cfg.DeepL.APIURL, cfg.DeepL.APIKey)
	default:
		return Noop{}, nil
	}
	return NewRetrying(p, cfg.Translation.Retries, timeout, cfg.Translation.RatePerSecond, logger), nil
}
