package core

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geminichat/core/llm"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls [][]llm.Part
	reply string
	err   error
	panic any
}

func (f *fakeProvider) ID() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, parts []llm.Part) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, parts)
	f.mu.Unlock()
	if f.panic != nil {
		panic(f.panic)
	}
	return f.reply, f.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func pngImage() *Image {
	return &Image{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}
}

func TestHandle_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{name: "missing prompt", req: Request{Mode: ModeChat}, msg: msgMissingField},
		{name: "blank prompt", req: Request{Mode: ModeSummarize, Prompt: "   "}, msg: msgMissingField},
		{name: "missing mode", req: Request{Prompt: "Hello"}, msg: msgMissingField},
		{name: "missing both", req: Request{}, msg: msgMissingField},
		{name: "vision without image", req: Request{Mode: ModeVision, Prompt: "What is this?"}, msg: msgMissingImage},
		{name: "vision with empty image", req: Request{Mode: ModeVision, Prompt: "What is this?", Image: &Image{MIMEType: "image/png"}}, msg: msgMissingImage},
		{name: "out of range mode", req: Request{Mode: Mode(42), Prompt: "Hello"}, msg: "unsupported mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProvider{reply: "never"}
			d := NewDispatcher(fp)

			_, err := d.Handle(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsInvalidRequest(err))
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, http.StatusBadRequest, StatusCode(err))
			assert.Zero(t, fp.callCount(), "provider must not be called")
		})
	}
}

func TestHandle_ChatPassesPromptVerbatim(t *testing.T) {
	fp := &fakeProvider{reply: "Hi! How can I help?"}
	d := NewDispatcher(fp)

	resp, err := d.Handle(context.Background(), Request{Mode: ModeChat, Prompt: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", resp.Text)
	assert.False(t, resp.Refused)

	require.Equal(t, 1, fp.callCount())
	assert.Equal(t, []llm.Part{{Text: "Hello"}}, fp.calls[0])
}

func TestHandle_ChatIgnoresImage(t *testing.T) {
	fp := &fakeProvider{reply: "ok"}
	d := NewDispatcher(fp)

	_, err := d.Handle(context.Background(), Request{Mode: ModeChat, Prompt: "Hello", Image: pngImage()})
	require.NoError(t, err)
	require.Equal(t, 1, fp.callCount())
	require.Len(t, fp.calls[0], 1)
	assert.False(t, fp.calls[0][0].IsInline())
}

func TestHandle_SummarizeRefusesLinks(t *testing.T) {
	prompts := []string{
		"https://example.com",
		"please summarize www.example.com for me",
		"read http://foo.bar/baz?x=1 now",
		"multi\nline https://example.com/article",
	}
	for _, p := range prompts {
		t.Run(p, func(t *testing.T) {
			fp := &fakeProvider{reply: "never"}
			d := NewDispatcher(fp)

			resp, err := d.Handle(context.Background(), Request{Mode: ModeSummarize, Prompt: p, Image: pngImage()})
			require.NoError(t, err)
			assert.Equal(t, LinkRefusalText, resp.Text)
			assert.True(t, resp.Refused)
			assert.Zero(t, fp.callCount())
		})
	}
}

func TestHandle_SummarizePrependsInstruction(t *testing.T) {
	fp := &fakeProvider{reply: "ringkasan"}
	d := NewDispatcher(fp)

	prompt := "Go is an open source programming language that makes it simple to build secure, scalable systems."
	resp, err := d.Handle(context.Background(), Request{Mode: ModeSummarize, Prompt: prompt, Image: pngImage()})
	require.NoError(t, err)
	assert.Equal(t, "ringkasan", resp.Text)

	require.Equal(t, 1, fp.callCount())
	require.Len(t, fp.calls[0], 1)
	assert.Equal(t, SummarizeInstruction+prompt, fp.calls[0][0].Text)
	assert.False(t, fp.calls[0][0].IsInline())
}

func TestHandle_VisionBuildsTwoParts(t *testing.T) {
	fp := &fakeProvider{reply: "a png header"}
	d := NewDispatcher(fp)

	img := pngImage()
	resp, err := d.Handle(context.Background(), Request{Mode: ModeVision, Prompt: "What is this?", Image: img})
	require.NoError(t, err)
	assert.Equal(t, "a png header", resp.Text)

	require.Equal(t, 1, fp.callCount())
	parts := fp.calls[0]
	require.Len(t, parts, 2)
	assert.Equal(t, "What is this?", parts[0].Text)
	require.True(t, parts[1].IsInline())
	assert.Equal(t, "image/png", parts[1].Inline.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img.Data), parts[1].Inline.Data)
}

func TestHandle_ProviderFailure(t *testing.T) {
	tests := []struct {
		name string
		fp   *fakeProvider
		msg  string
	}{
		{name: "error propagated", fp: &fakeProvider{err: errors.New("blocked by safety settings (SAFETY)")}, msg: "blocked by safety settings (SAFETY)"},
		{name: "empty error message", fp: &fakeProvider{err: errors.New("")}, msg: msgGenericFailure},
		{name: "panic recovered", fp: &fakeProvider{panic: "boom"}, msg: "provider panic: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(tt.fp)

			var (
				resp Response
				err  error
			)
			require.NotPanics(t, func() {
				resp, err = d.Handle(context.Background(), Request{Mode: ModeChat, Prompt: "Hello"})
			})
			require.Error(t, err)
			assert.Empty(t, resp.Text)
			assert.True(t, IsProviderFailure(err))
			assert.Equal(t, tt.msg, err.Error())
			assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
			assert.Equal(t, 1, tt.fp.callCount())
		})
	}
}

func TestHandle_EmptyReplyIsSuccess(t *testing.T) {
	fp := &fakeProvider{reply: ""}
	d := NewDispatcher(fp)

	resp, err := d.Handle(context.Background(), Request{Mode: ModeChat, Prompt: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Text)
	assert.False(t, resp.Refused)
	assert.Equal(t, 1, fp.callCount())
}

func TestHandle_ConcurrentCallsAreIndependent(t *testing.T) {
	fp := &fakeProvider{reply: "pong"}
	d := NewDispatcher(fp)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.Handle(context.Background(), Request{Mode: ModeChat, Prompt: "ping"})
			assert.NoError(t, err)
			assert.Equal(t, "pong", resp.Text)
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, fp.callCount())
}

func TestHandle_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	fp := &fakeProvider{reply: "ok"}
	d := NewDispatcher(fp, WithMetrics(m))

	ctx := context.Background()
	_, _ = d.Handle(ctx, Request{Mode: ModeChat, Prompt: "Hello"})
	_, _ = d.Handle(ctx, Request{Mode: ModeSummarize, Prompt: "www.example.com"})
	_, _ = d.Handle(ctx, Request{Mode: ModeVision, Prompt: "x"})
	_, _ = d.Handle(ctx, Request{Prompt: "x"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("chat", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("summarize", outcomeRefused)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("vision", outcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("unknown", outcomeInvalid)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.providerDuration))
}
