package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/esnunes/renderpilot/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysis(t *testing.T) {
	a, err := parseAnalysis("```json\n{\"openingStatement\":\"Hi\",\"bulletPoints\":[\"a\",\"b\"],\"closingStatement\":\"Bye\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Hi", a.OpeningStatement)
	assert.Equal(t, []string{"a", "b"}, a.BulletPoints)
	assert.Equal(t, "Bye", a.ClosingStatement)
}

func TestParseAnalysisWrappedInProse(t *testing.T) {
	a, err := parseAnalysis(`Sure! {"openingStatement":"Hi","bulletPoints":["x"],"closingStatement":""} Hope that helps.`)
	require.NoError(t, err)
	assert.Equal(t, "Hi", a.OpeningStatement)
}

func TestParseAnalysisFailures(t *testing.T) {
	_, err := parseAnalysis("no json here")
	assert.Error(t, err)

	_, err = parseAnalysis(`{"closingStatement":"only"}`)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestDataURL(t *testing.T) {
	u := DataURL("image/png", []byte("pixels"))
	assert.True(t, strings.HasPrefix(u, "data:image/png;base64,"))

	mimeType, data, err := DecodeDataURL(u)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, []byte("pixels"), data)

	_, _, err = DecodeDataURL("https://example.com/a.png")
	assert.Error(t, err)
	_, _, err = DecodeDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)

	mimeType, data, err = DecodeDataURL("data:text/plain;charset=utf-8,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mimeType)
	assert.Equal(t, []byte("hello world"), data)

	assert.True(t, strings.HasPrefix(DataURL("png", nil), "data:application/octet-stream;base64,"))
}

func TestGuessMIME(t *testing.T) {
	assert.Equal(t, "image/png", GuessMIME("data:image/png;base64,AAAA"))
	assert.Equal(t, "image/webp", GuessMIME("data:image/webp;base64,AAAA"))
	assert.Equal(t, "image/jpeg", GuessMIME("data:image/gif;base64,AAAA"))
	assert.Equal(t, "image/jpeg", GuessMIME("https://example.com/a.png"))
	assert.Equal(t, "", MediaType("https://example.com/a.png"))
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(Settings{ChatModel: "a", VisionModel: "b", ImageModel: "c"}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewRealtime(RealtimeSettings{URL: "wss://x", Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	o, err := NewOpenAI(Settings{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/",
		ChatModel:   "chat",
		VisionModel: "vision",
		ImageModel:  "image",
		Timeout:     5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return o
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"created": 0,
		"model":   "chat",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAIChat(t *testing.T) {
	var body map[string]any
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatResponse("Hello there"))
	})

	reply, err := o.Chat(context.Background(), []Turn{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleModel, Content: "hello"},
	}, "how are you?")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)

	assert.Equal(t, "chat", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 4)
}

func TestOpenAIAnalyzeImageUsesVisionModel(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(data), `"model":"vision"`)
		assert.Contains(t, string(data), "data:image/png;base64,AAAA")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatResponse(`{"openingStatement":"Seen","bulletPoints":["one"],"closingStatement":"Go?"}`))
	})

	a, err := o.AnalyzeImage(context.Background(), models.Image{URL: "data:image/png;base64,AAAA", MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "Seen", a.OpeningStatement)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatResponse("   "))
	})
	_, err := o.GeneratePreRenderAudit(context.Background(), "data:image/png;base64,AA", "make it blue")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestOpenAIGenerateImages(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/images/generations"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"created":0,"data":[{"b64_json":"QUJD"}]}`)
	})
	urls, err := o.GenerateImages(context.Background(), "a cafe landing page", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"data:image/png;base64,QUJD"}, urls)
}

func TestOpenAIClientErrorIsWrapped(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})
	_, err := o.Chat(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatting")
}

func TestEditImageRejectsNonDataURL(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := o.CropImage(context.Background(), "https://example.com/a.png")
	assert.Error(t, err)
}

func TestRealtimeTranslatesServerEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rt-model", r.URL.Query().Get("model"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		var setup map[string]any
		if !assert.NoError(t, wsjson.Read(ctx, c, &setup)) {
			return
		}
		assert.Equal(t, "session.update", setup["type"])

		for _, ev := range []map[string]any{
			{"type": "session.created"},
			{"type": "conversation.item.input_audio_transcription.delta", "delta": "make it "},
			{"type": "conversation.item.input_audio_transcription.delta", "delta": "blue"},
			{"type": "conversation.item.input_audio_transcription.completed", "transcript": "make it blue"},
			{"type": "response.audio_transcript.delta", "delta": "Sure"},
			{"type": "response.audio_transcript.delta", "delta": " thing"},
			{"type": "response.audio.delta", "delta": "AQID"},
			{"type": "input_audio_buffer.speech_started"},
			{"type": "response.done"},
		} {
			if !assert.NoError(t, wsjson.Write(ctx, c, ev)) {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	rt, err := NewRealtime(RealtimeSettings{
		APIKey: "sk-test",
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Model:  "rt-model",
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := rt.DialLive(ctx, LiveConfig{Voice: "alloy"})
	require.NoError(t, err)
	defer conn.Close()

	var got []LiveEvent
	for ev := range conn.Events() {
		got = append(got, ev)
	}
	assert.Equal(t, []LiveEvent{
		LiveOpened{},
		InputTranscript{Text: "make it "},
		InputTranscript{Text: "make it blue"},
		InputTranscript{Text: "make it blue", Final: true},
		OutputTranscript{Text: "Sure"},
		OutputTranscript{Text: "Sure thing"},
		AudioChunk{PCM: []byte{1, 2, 3}},
		Interrupted{},
		TurnComplete{},
		LiveClosed{},
	}, got)
}
