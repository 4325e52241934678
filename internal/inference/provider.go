// Package inference provides the model providers used for type
// classification, answer extraction and resume building, plus the ordered
// fallback router and tolerant JSON decoding of provider output.
package inference

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/callpilot/protofill/internal/logger"
	"go.uber.org/zap"
)

// Provider is a single model backend. Complete sends one system/user prompt
// pair and returns the raw textual response.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrAllProvidersFailed is returned by the router when every configured
// provider failed for a request.
var ErrAllProvidersFailed = errors.New("all inference providers failed")

const routerMaxLogLength = 200

// Router tries providers in configuration order and falls back to the next
// one on any error. The preferred provider is always retried on the next
// request; there is no circuit state.
type Router struct {
	providers []Provider
	logger    *zap.Logger
}

// NewRouter builds a router over the given providers. At least one provider
// is required.
func NewRouter(logger *zap.Logger, providers ...Provider) (*Router, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one inference provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{providers: providers, logger: logger}, nil
}

func (r *Router) Name() string { return "router" }

// Model reports the preferred provider's model.
func (r *Router) Model() string { return r.providers[0].Model() }

// Complete runs the request against the first provider that succeeds.
func (r *Router) Complete(ctx context.Context, system, user string) (string, error) {
	var errs []error
	for _, p := range r.providers {
		log := logger.WithCommonFields(r.logger, p.Name(), p.Model())
		log.Debug("inference request",
			zap.Int("prompt_length", utf8.RuneCountInString(user)),
			zap.String("prompt_preview", logger.TruncateForLog(user, routerMaxLogLength)),
		)

		raw, err := p.Complete(ctx, system, user)
		if err != nil {
			log.Warn("provider failed, trying next", zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		log.Debug("inference response",
			zap.Int("response_length", utf8.RuneCountInString(raw)),
			zap.String("response_preview", logger.TruncateForLog(raw, routerMaxLogLength)),
		)
		return raw, nil
	}
	return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, errors.Join(errs...))
}
