// Package rewrite tidies scraped investor descriptions with a language model.
// Gemini is tried first and OpenAI second; each provider sits behind its own
// circuit breaker.
package rewrite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/prompt"
	"github.com/kapu/dealsync-go/internal/retry"
	"github.com/kapu/dealsync-go/internal/util"
)

// Input is the investor a description belongs to.
type Input struct {
	Name        string
	Type        string
	Website     string
	Description string
}

type guardedProvider struct {
	provider Provider
	breaker  *util.CircuitBreaker
}

type Service struct {
	providers []guardedProvider
	builder   *prompt.PromptBuilder
	policy    retry.Policy
	timeout   time.Duration
	logger    *zap.Logger
}

// NewService tries providers in the order given. Nil providers are ignored.
func NewService(logger *zap.Logger, providers ...Provider) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		builder: prompt.DefaultPromptBuilder(),
		policy:  retry.DefaultPolicy(logger),
		timeout: 30 * time.Second,
		logger:  logger,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		s.providers = append(s.providers, guardedProvider{
			provider: p,
			breaker: util.NewCircuitBreaker(p.Name(),
				constants.CircuitBreakerConfig.FailureThreshold,
				constants.CircuitBreakerConfig.ResetTimeout,
				logger),
		})
	}
	return s
}

// Enabled reports whether any provider is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.providers) > 0
}

// Rewrite returns the rewritten description. On failure the original text is
// returned together with the error, so callers can always use the result.
func (s *Service) Rewrite(ctx context.Context, in Input) (string, error) {
	original := strings.TrimSpace(in.Description)
	if original == "" || !s.Enabled() {
		return original, nil
	}

	text, err := s.builder.Render(prompt.TemplateInvestorDescription, prompt.InvestorDescriptionData{
		Name:         in.Name,
		Type:         in.Type,
		Website:      in.Website,
		Description:  original,
		MaxSentences: 3,
		MaxChars:     constants.StringLimits.Description / 2,
	})
	if err != nil {
		return original, err
	}

	var lastErr error
	for _, gp := range s.providers {
		if !gp.breaker.CanExecute() {
			s.logger.Debug("Provider circuit open, skipping", zap.String("provider", gp.provider.Name()))
			continue
		}

		out, err := retry.Do(ctx, s.policy, "rewrite/"+gp.provider.Name(), func(ctx context.Context) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			return gp.provider.Generate(callCtx, text)
		})
		if err != nil {
			gp.breaker.RecordFailure()
			lastErr = err
			continue
		}
		gp.breaker.RecordSuccess()

		if cleaned := clean(out); cleaned != "" {
			return util.TruncateString(cleaned, constants.StringLimits.Description), nil
		}
		return original, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all rewrite providers unavailable")
	}
	return original, lastErr
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.Trim(strings.TrimSpace(s), `"`)
	return strings.Join(strings.Fields(s), " ")
}
