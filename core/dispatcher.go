package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"geminichat/core/llm"
)

// Dispatcher turns a Request into exactly one provider call, or none when
// validation or the summarize link policy answers first. It keeps no
// per-call state and is safe for concurrent use.
type Dispatcher struct {
	provider llm.Provider
	log      zerolog.Logger
	metrics  *Metrics
}

type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(provider llm.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: provider,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) ProviderID() string {
	return d.provider.ID()
}

// Validate checks the request in the same order Handle does.
func (r Request) Validate() error {
	if r.Mode == 0 || strings.TrimSpace(r.Prompt) == "" {
		return invalidRequest(msgMissingField)
	}
	if !r.Mode.Valid() {
		return invalidRequest(fmt.Sprintf("unsupported mode: %s", r.Mode))
	}
	if r.Mode == ModeVision && (r.Image == nil || len(r.Image.Data) == 0) {
		return invalidRequest(msgMissingImage)
	}
	return nil
}

// Handle runs one request to completion. Every failure is returned as *Error.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		d.metrics.observeDispatch(req.Mode, outcomeInvalid)
		return Response{}, err
	}

	var parts []llm.Part
	switch req.Mode {
	case ModeVision:
		parts = []llm.Part{
			llm.TextPart(req.Prompt),
			llm.InlinePart(req.Image.MIMEType, req.Image.Data),
		}
	case ModeSummarize:
		if ContainsLink(req.Prompt) {
			d.log.Info().Str("mode", req.Mode.String()).Msg("link detected in summarize prompt, refusing")
			d.metrics.observeDispatch(req.Mode, outcomeRefused)
			return Response{Text: LinkRefusalText, Refused: true}, nil
		}
		parts = []llm.Part{llm.TextPart(summarizePrompt(req.Prompt))}
	case ModeChat:
		parts = []llm.Part{llm.TextPart(req.Prompt)}
	default:
		return Response{}, invalidRequest(fmt.Sprintf("unsupported mode: %s", req.Mode))
	}

	text, err := d.generate(ctx, parts)
	if err != nil {
		d.log.Error().Err(err).Str("mode", req.Mode.String()).Str("provider", d.provider.ID()).Msg("provider call failed")
		d.metrics.observeDispatch(req.Mode, outcomeProviderError)
		return Response{}, providerFailure(err)
	}

	d.metrics.observeDispatch(req.Mode, outcomeOK)
	return Response{Text: text}, nil
}

func (d *Dispatcher) generate(ctx context.Context, parts []llm.Part) (text string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
		d.metrics.observeProvider(d.provider.ID(), time.Since(start))
	}()

	return d.provider.Generate(ctx, parts)
}
