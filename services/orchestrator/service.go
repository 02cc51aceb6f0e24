package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/services"
	"github.com/upb/omnichat-gateway/services/circuit"
	"github.com/upb/omnichat-gateway/services/providers"
	"github.com/upb/omnichat-gateway/services/routing"
)

// UsageLedger is the subset of the usage ledger the orchestrator needs
type UsageLedger interface {
	Get(ctx context.Context, provider string) (int64, error)
	Increment(ctx context.Context, provider string) (int64, error)
	Snapshot(ctx context.Context, providers []string) (map[string]int64, error)
}

// Service runs chat requests through cache, coalescing and the provider chain
type Service struct {
	registry *providers.Registry
	usage    UsageLedger
	state    *State
	logger   *zap.Logger
}

// NewService creates an orchestrator over the given registry and shared state
func NewService(registry *providers.Registry, usage UsageLedger, state *State, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		usage:    usage,
		state:    state,
		logger:   logger,
	}
}

// Chat answers one request. A fresh cache hit skips every provider; concurrent
// identical requests share a single run of the provider chain.
func (s *Service) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	fp := Fingerprint(req)

	if res, ok := s.state.Cache.Get(fp); ok {
		s.logger.Debug("serving cached response",
			zap.String("fingerprint", fp[:12]),
			zap.String("provider", res.Provider))
		return res.asCached(), nil
	}

	res, shared, err := s.state.Coalescer.Do(ctx, fp, func(ctx context.Context) (*ChatResult, error) {
		// a flight that settled between the lookup above and joining may have filled the cache
		if res, ok := s.state.Cache.Get(fp); ok {
			return res.asCached(), nil
		}

		res, err := s.runChain(ctx, req)
		if err != nil {
			if s.state.Cache.ClearIfOversized() {
				s.logger.Info("response cache cleared after provider chain failure")
			}
			return nil, err
		}

		s.state.Cache.Set(fp, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		s.logger.Debug("request coalesced with in-flight call",
			zap.String("fingerprint", fp[:12]),
			zap.String("session_id", req.SessionID))
	}
	return res, nil
}

// runChain tries providers one at a time until one answers
func (s *Service) runChain(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	intent := routing.ClassifyIntent(req.Message, req.Code)
	plan := routing.NewPlan(s.registry, intent, s.usage, s.state.Breakers)

	var used []string
	for {
		cfg, ok, err := plan.Next(ctx)
		if err != nil {
			s.logger.Error("provider selection aborted", zap.Error(err))
			return nil, err
		}
		if !ok {
			exhausted := plan.Exhausted()
			s.logger.Warn("all providers exhausted",
				zap.Strings("used_providers", used),
				zap.String("attempts", exhausted.Error()))
			return nil, exhausted
		}

		entry, err := s.registry.Get(cfg.Name)
		if err != nil {
			return nil, services.WrapInternal("provider vanished from registry", err)
		}

		var resp *providers.ChatResponse
		err = s.state.Breakers.Execute(cfg.Name, func() error {
			r, err := entry.Adapter.Invoke(ctx, providers.InvokeRequest{
				Message:      req.Message,
				Conversation: req.Conversation,
				Credentials:  cfg.Credentials(),
			})
			if err != nil {
				return err
			}
			if r == nil || len(r.Choices) == 0 {
				return providers.NewProviderError(cfg.Name, providers.CodeEmptyResponse, "response contained no choices", 0, true, nil)
			}
			resp = r
			return nil
		})

		if errors.Is(err, circuit.ErrCircuitOpen) {
			plan.Fail(cfg.Name, routing.ReasonCircuitOpen, "")
			continue
		}

		plan.Attempted()
		used = append(used, cfg.Name)
		if _, incErr := s.usage.Increment(ctx, cfg.Name); incErr != nil {
			s.logger.Warn("failed to record provider usage",
				zap.String("provider", cfg.Name),
				zap.Error(incErr))
		}

		if err != nil {
			s.logger.Warn("provider call failed, trying next",
				zap.String("provider", cfg.Name),
				zap.Error(err))
			plan.Fail(cfg.Name, routing.ReasonProviderError, failureDetail(err))
			continue
		}

		s.logger.Info("provider answered",
			zap.String("provider", cfg.Name),
			zap.Strings("used_providers", used),
			zap.Bool("code_request", intent.IsCodeRequest()))

		return &ChatResult{
			ID:            uuid.NewString(),
			Provider:      cfg.Name,
			Response:      resp.Text(),
			Choices:       resp.Choices,
			Usage:         resp.Usage,
			UsedProviders: used,
			IsCodeRequest: intent.IsCodeRequest(),
		}, nil
	}
}

// failureDetail is the client-safe summary of a failed attempt
func failureDetail(err error) string {
	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		if provErr.StatusCode != 0 {
			return fmt.Sprintf("%s (status %d)", provErr.Code, provErr.StatusCode)
		}
		return provErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "request failed"
}

// Status reports every provider with today's usage and breaker state
func (s *Service) Status(ctx context.Context) (*Status, error) {
	cfgs := s.registry.Ordered()
	names := make([]string, len(cfgs))
	for i, c := range cfgs {
		names[i] = c.Name
	}

	counts, err := s.usage.Snapshot(ctx, names)
	if err != nil {
		return nil, err
	}
	breakers := s.state.Breakers.Snapshot()

	out := &Status{
		Providers: make([]ProviderStatus, len(cfgs)),
		Cache:     s.state.Cache.Stats(),
	}
	for i, c := range cfgs {
		snap, ok := breakers[c.Name]
		if !ok {
			snap = circuit.Snapshot{State: circuit.StateClosed}
		}
		out.Providers[i] = ProviderStatus{
			Name:             c.Name,
			Kind:             c.Kind,
			Priority:         c.Priority,
			DailyLimit:       c.DailyLimit,
			UsedToday:        counts[c.Name],
			SpecializesIn:    c.SpecializesIn,
			FallbackEligible: c.FallbackEligible,
			Circuit:          snap,
		}
	}
	return out, nil
}

// Fingerprint identifies a request for caching and coalescing: purpose,
// message and serialized history, each length-prefixed. Session and caller
// identity are excluded.
func Fingerprint(req *ChatRequest) string {
	h := sha256.New()
	writeField(h, []byte(req.Purpose))
	writeField(h, []byte(req.Message))

	history := []byte("[]")
	if len(req.Conversation) > 0 {
		// Message holds only strings, so Marshal cannot fail
		history, _ = json.Marshal(req.Conversation)
	}
	writeField(h, history)

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, b []byte) {
	fmt.Fprintf(h, "%d:", len(b))
	h.Write(b)
}
