package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snowgoose-backend/internal/models"
)

var testConfig = models.ModelConfig{
	ModelID:         7,
	APIName:         "test-model",
	InputTokenCost:  2,
	OutputTokenCost: 8,
	WebSearchCost:   0.01,
}

func userMessage(text string) models.Message {
	return models.Message{Role: models.RoleUser, Content: []models.ContentBlock{{Type: models.ContentText, Text: text}}}
}

// sseServer replays frames as an event stream and records the request body.
func sseServer(t *testing.T, frames []string, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, got))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
	}))
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestTurnCost(t *testing.T) {
	cfg := models.ModelConfig{InputTokenCost: 3, OutputTokenCost: 15, ImageOutputTokenCost: 40, WebSearchCost: 0.01}
	u := models.Usage{InputTokens: 1_000_000, OutputTokens: 100_000, ImageOutputTokens: 10_000, WebSearchCount: 2}
	assert.InDelta(t, 3+1.5+0.4+0.02, TurnCost(cfg, u), 1e-9)
}

func TestMetaEvent_KeepsReportedCost(t *testing.T) {
	meta := metaEvent(testConfig, "", models.Usage{InputTokens: 1000, TotalCost: 0.5})
	require.NotNil(t, meta.Usage)
	assert.Equal(t, 0.5, meta.Usage.TotalCost)
	assert.Equal(t, "test-model", meta.Model)
}

type plainVendor struct{}

func (plainVendor) Name() string { return "plain" }
func (plainVendor) Bind(cfg models.ModelConfig) Adapter {
	return plainAdapter{cfg: cfg}
}

type plainAdapter struct{ cfg models.ModelConfig }

func (plainAdapter) Name() string                 { return "plain" }
func (a plainAdapter) Config() models.ModelConfig { return a.cfg }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(plainVendor{}))
	require.NoError(t, reg.Register(NewOpenAI("k", "http://x", http.DefaultClient, zap.NewNop())))
	assert.Error(t, reg.Register(plainVendor{}))

	_, err := reg.Get("nope", testConfig)
	assert.ErrorIs(t, err, ErrUnknownVendor)

	a, err := reg.Get("plain", testConfig)
	require.NoError(t, err)
	assert.Equal(t, testConfig, a.Config())

	_, err = reg.GetStreamer("plain", testConfig)
	assert.ErrorIs(t, err, ErrStreamingUnsupported)

	s, err := reg.GetStreamer("openai", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "openai", s.Name())
	assert.ElementsMatch(t, []string{"plain", "openai"}, reg.Names())
}

func TestOpenAI_StreamResponse(t *testing.T) {
	frames := []string{
		`{"type":"response.created","response":{"id":"resp_1","model":"gpt-test"}}`,
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.reasoning_summary_text.delta","delta":"hmm"}`,
		`{"type":"response.image_generation_call.partial_image","item_id":"ig_1","partial_image_b64":"AAA","output_format":"png"}`,
		`{"type":"response.output_item.done","item":{"id":"ig_1","type":"image_generation_call","result":"BBBB"}}`,
		`{"type":"response.web_search_call.completed"}`,
		`{"type":"response.completed","response":{"id":"resp_1","model":"gpt-test","usage":{"input_tokens":1000,"output_tokens":500}}}`,
	}
	var body map[string]any
	srv := sseServer(t, frames, &body)
	defer srv.Close()

	vendor := NewOpenAI("sk-test", srv.URL, srv.Client(), zap.NewNop())
	a := vendor.Bind(testConfig).(Streamer)

	ch, err := a.StreamResponse(context.Background(), Options{
		Model:              "gpt-test",
		Messages:           []models.Message{userMessage("first"), userMessage("second")},
		SystemPrompt:       "be brief",
		ThinkingMode:       true,
		BudgetTokens:       4000,
		Tools:              []Tool{ToolImageGeneration, ToolWebSearch},
		PreviousResponseID: "resp_0",
	})
	require.NoError(t, err)
	chunks := collect(t, ch)

	assert.Equal(t, "resp_0", body["previous_response_id"])
	assert.Len(t, body["input"], 1)
	assert.Equal(t, "be brief", body["instructions"])
	assert.Equal(t, "medium", body["reasoning"].(map[string]any)["effort"])
	assert.Len(t, body["tools"], 2)

	require.Len(t, chunks, 7)
	for _, c := range chunks {
		require.NoError(t, c.Err)
	}
	assert.Equal(t, models.ResponseIDEvent{ResponseID: "resp_1"}, chunks[0].Event)
	assert.Equal(t, models.TextDelta{Content: "Hel"}, chunks[1].Event)
	assert.Equal(t, models.ThinkingDelta{Content: "hmm"}, chunks[2].Event)
	assert.Equal(t, models.ImageDataEvent{GenerationID: "ig_1", Data: "AAA", MimeType: "image/png", Partial: true}, chunks[3].Event)
	assert.Equal(t, models.ImageDataEvent{GenerationID: "ig_1", Data: "BBBB", MimeType: "image/png"}, chunks[4].Event)

	meta, ok := chunks[6].Event.(models.MetaEvent)
	require.True(t, ok)
	assert.Equal(t, 1, meta.Usage.WebSearchCount)
	assert.True(t, meta.Usage.DidGenerateImage)
	assert.InDelta(t, 1000*2.0/1e6+500*8.0/1e6+0.01, meta.Usage.TotalCost, 1e-12)
}

func TestOpenAI_ErrorEventEndsStream(t *testing.T) {
	frames := []string{
		`{"type":"response.output_text.delta","delta":"partial"}`,
		`{"type":"error","code":"server_error","message":"boom"}`,
		`{"type":"response.output_text.delta","delta":"never"}`,
	}
	srv := sseServer(t, frames, nil)
	defer srv.Close()

	a := NewOpenAI("sk-test", srv.URL, srv.Client(), zap.NewNop()).Bind(testConfig).(Streamer)
	ch, err := a.StreamResponse(context.Background(), Options{Model: "gpt-test", Messages: []models.Message{userMessage("hi")}})
	require.NoError(t, err)

	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	var upErr *UpstreamError
	require.ErrorAs(t, chunks[1].Err, &upErr)
	assert.Equal(t, "server_error", upErr.Code)
}

func TestPostStream_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewOpenAI("bad", srv.URL, srv.Client(), zap.NewNop()).Bind(testConfig).(Streamer)
	_, err := a.StreamResponse(context.Background(), Options{Model: "gpt-test", Messages: []models.Message{userMessage("hi")}})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestStreamSSE_StopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"%d\"}\n\n", i); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-release:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	a := NewOpenAI("sk", srv.URL, srv.Client(), zap.NewNop()).Bind(testConfig).(Streamer)
	ch, err := a.StreamResponse(ctx, Options{Model: "gpt-test", Messages: []models.Message{userMessage("hi")}})
	require.NoError(t, err)

	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
}

func TestAnthropic_StreamResponse(t *testing.T) {
	frames := []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-test","usage":{"input_tokens":200,"output_tokens":1}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me see"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"server_tool_use","name":"web_search"}}`,
		`{"type":"content_block_start","index":2,"content_block":{"type":"web_search_tool_result"}}`,
		`{"type":"content_block_delta","index":3,"delta":{"type":"text_delta","text":"Answer"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":300,"server_tool_use":{"web_search_requests":1}}}`,
		`{"type":"message_stop"}`,
	}
	var body map[string]any
	srv := sseServer(t, frames, &body)
	defer srv.Close()

	a := NewAnthropic("key", srv.URL, srv.Client(), zap.NewNop()).Bind(testConfig).(Streamer)
	ch, err := a.StreamResponse(context.Background(), Options{
		Model:        "claude-test",
		Messages:     []models.Message{userMessage("search this")},
		MaxTokens:    2000,
		ThinkingMode: true,
		BudgetTokens: 3000,
		Tools:        []Tool{ToolWebSearch},
	})
	require.NoError(t, err)
	chunks := collect(t, ch)

	assert.EqualValues(t, 3000+anthropicDefaultMaxTokens, body["max_tokens"])
	assert.EqualValues(t, 3000, body["thinking"].(map[string]any)["budget_tokens"])
	assert.Equal(t, "web_search_20250305", body["tools"].([]any)[0].(map[string]any)["type"])

	require.Len(t, chunks, 5)
	assert.Equal(t, models.ThinkingDelta{Content: "let me see"}, chunks[0].Event)
	assert.Equal(t, models.ToolStatusEvent{Tool: "web_search", Status: "in_progress"}, chunks[1].Event)
	assert.Equal(t, models.ToolStatusEvent{Tool: "web_search", Status: "completed"}, chunks[2].Event)
	assert.Equal(t, models.TextDelta{Content: "Answer"}, chunks[3].Event)

	meta := chunks[4].Event.(models.MetaEvent)
	assert.Equal(t, "claude-test", meta.Model)
	assert.Equal(t, 200, meta.Usage.InputTokens)
	assert.Equal(t, 300, meta.Usage.OutputTokens)
	assert.Equal(t, 1, meta.Usage.WebSearchCount)
	assert.False(t, meta.Usage.DidGenerateImage)
}

func TestAnthropic_DefaultMaxTokens(t *testing.T) {
	a := NewAnthropic("key", "http://x", http.DefaultClient, zap.NewNop()).Bind(testConfig).(*anthropicAdapter)
	req := a.buildRequest(Options{Model: "m", Messages: []models.Message{userMessage("hi")}})
	assert.Equal(t, anthropicDefaultMaxTokens, req.MaxTokens)
	assert.Nil(t, req.Thinking)
}

func TestOpenRouter_StreamResponse(t *testing.T) {
	frames := []string{
		`{"id":"gen-1","model":"or/test","choices":[{"delta":{"reasoning":"think"}}]}`,
		`{"id":"gen-1","model":"or/test","choices":[{"delta":{"content":"Here"}}]}`,
		`{"id":"gen-1","model":"or/test","choices":[{"delta":{"images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,QUJD"}}]}}]}`,
		`{"id":"gen-1","model":"or/test","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":20,"cost":0.0042}}`,
		`[DONE]`,
	}
	var body map[string]any
	srv := sseServer(t, frames, &body)
	defer srv.Close()

	a := NewOpenRouter("key", srv.URL, "https://snowgoose.app", srv.Client(), zap.NewNop()).Bind(testConfig).(Streamer)
	ch, err := a.StreamResponse(context.Background(), Options{
		Model:        "or/test",
		SystemPrompt: "sys",
		Messages:     []models.Message{userMessage("draw")},
		Tools:        []Tool{ToolImageGeneration, ToolWebSearch},
	})
	require.NoError(t, err)
	chunks := collect(t, ch)

	assert.Equal(t, map[string]any{"include": true}, body["usage"])
	assert.Equal(t, "system", body["messages"].([]any)[0].(map[string]any)["role"])
	assert.Equal(t, []any{"image", "text"}, body["modalities"])

	require.Len(t, chunks, 4)
	assert.Equal(t, models.ThinkingDelta{Content: "think"}, chunks[0].Event)
	assert.Equal(t, models.TextDelta{Content: "Here"}, chunks[1].Event)
	assert.Equal(t, models.ImageDataEvent{GenerationID: "gen-1-0", Data: "QUJD", MimeType: "image/png"}, chunks[2].Event)

	meta := chunks[3].Event.(models.MetaEvent)
	assert.Equal(t, 0.0042, meta.Usage.TotalCost)
	assert.True(t, meta.Usage.DidGenerateImage)
}

func TestGoogle_ResponseEvents(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text("a cat"),
				genai.Blob{MIMEType: "image/png", Data: []byte("ABC")},
			}},
		}},
	}

	events := responseEvents(resp)
	require.Len(t, events, 2)
	assert.Equal(t, models.TextDelta{Content: "a cat"}, events[0])
	img := events[1].(models.ImageDataEvent)
	assert.Equal(t, "QUJD", img.Data)
	assert.Equal(t, "image/png", img.MimeType)
	assert.NotEmpty(t, img.GenerationID)
}

func TestGoogle_ToContentFetchesImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	vendor := &Google{httpClient: srv.Client(), logger: zap.NewNop()}
	a := vendor.Bind(testConfig).(*googleAdapter)

	content := a.toContent(context.Background(), models.Message{
		Role: models.RoleAssistant,
		Content: []models.ContentBlock{
			{Type: models.ContentText, Text: "look"},
			{Type: models.ContentImage, URL: srv.URL + "/cat.png"},
			{Type: models.ContentImage, URL: srv.URL + "/missing.png"},
		},
	})

	assert.Equal(t, "model", content.Role)
	require.Len(t, content.Parts, 2)
	assert.Equal(t, genai.Text("look"), content.Parts[0])
	assert.Equal(t, genai.Blob{MIMEType: "image/png", Data: []byte("PNGDATA")}, content.Parts[1])
}
