package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esnunes/renderpilot/internal/models"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Settings struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	VisionModel string
	ImageModel  string
	Timeout     time.Duration
}

// OpenAI implements Provider on the chat-completions and images endpoints.
type OpenAI struct {
	settings Settings
	opts     []option.RequestOption
	logger   *slog.Logger
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(s Settings, logger *slog.Logger) (*OpenAI, error) {
	if s.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if s.ChatModel == "" || s.VisionModel == "" || s.ImageModel == "" {
		return nil, errors.New("provider models are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &OpenAI{settings: s, opts: opts, logger: logger}, nil
}

func (o *OpenAI) GenerateImages(ctx context.Context, prompt string, count int) ([]string, error) {
	if count <= 0 {
		count = 1
	}
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	client := openai.NewClient(o.opts...)
	resp, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: imageGenerationPrompt(prompt),
		Model:  openai.ImageModel(o.settings.ImageModel),
		N:      openai.Int(int64(count)),
		Size:   openai.ImageGenerateParamsSize("1536x1024"),
	})
	if err != nil {
		return nil, o.fail(ctx, "generating images", err)
	}
	urls := make([]string, 0, len(resp.Data))
	for _, img := range resp.Data {
		if u := imageURL(img); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("generating images: %w", ErrEmptyResult)
	}
	return urls, nil
}

func (o *OpenAI) EnhanceImage(ctx context.Context, img models.Image, prompt string) (string, error) {
	return o.editImage(ctx, "enhancing image", img.URL, enhancePrompt(prompt))
}

func (o *OpenAI) GenerateIntentScreenshot(ctx context.Context, img models.Image, prompt string) (string, error) {
	return o.editImage(ctx, "generating intent screenshot", img.URL, intentScreenshotPrompt(prompt))
}

func (o *OpenAI) CropImage(ctx context.Context, imageURL string) (string, error) {
	return o.editImage(ctx, "cropping image", imageURL, cropPrompt)
}

func (o *OpenAI) editImage(ctx context.Context, op, source, prompt string) (string, error) {
	mimeType, data, err := DecodeDataURL(source)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	client := openai.NewClient(o.opts...)
	resp, err := client.Images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(data), "snapshot"+extension(mimeType), mimeType),
		},
		Prompt: prompt,
		Model:  openai.ImageModel(o.settings.ImageModel),
	})
	if err != nil {
		return "", o.fail(ctx, op, err)
	}
	for _, img := range resp.Data {
		if u := imageURL(img); u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("%s: %w", op, ErrEmptyResult)
}

func (o *OpenAI) AnalyzeImage(ctx context.Context, img models.Image) (*Analysis, error) {
	text, err := o.vision(ctx, "analyzing image", analyzePrompt, img.URL)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text)
}

func (o *OpenAI) GeneratePreRenderAudit(ctx context.Context, imageURL, prompt string) (string, error) {
	return o.vision(ctx, "generating pre-render audit", preRenderAuditPrompt(prompt), imageURL)
}

func (o *OpenAI) GenerateHTML(ctx context.Context, imageURL, prompt, auditReport string) (string, error) {
	return o.vision(ctx, "generating html", htmlPrompt(prompt, auditReport), imageURL)
}

func (o *OpenAI) ConfirmRefinement(ctx context.Context, original models.Image, refinedURL, prompt string) (string, error) {
	return o.vision(ctx, "confirming refinement", refinementPrompt(prompt), original.URL, refinedURL)
}

func (o *OpenAI) Chat(ctx context.Context, history []Turn, message string) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(chatSystemPrompt)}
	for _, h := range history {
		switch h.Role {
		case models.RoleModel:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(message))
	return o.complete(ctx, "chatting", o.settings.ChatModel, msgs)
}

// vision sends the prompt followed by the given images to the vision model.
func (o *OpenAI) vision(ctx context.Context, op, prompt string, images ...string) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	for _, u := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: u}))
	}
	parts = append(parts, openai.TextContentPart(prompt))
	return o.complete(ctx, op, o.settings.VisionModel, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(parts),
	})
}

func (o *OpenAI) complete(ctx context.Context, op, model string, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	client := openai.NewClient(o.opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return "", o.fail(ctx, op, err)
	}
	o.logger.Debug("Provider call finished", "op", op, "model", model, "duration", time.Since(start))
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyResult)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.settings.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.settings.Timeout)
}

func (o *OpenAI) fail(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.logger.Warn("Provider call timed out", "op", op)
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func imageURL(img openai.Image) string {
	if img.B64JSON != "" {
		return "data:image/png;base64," + img.B64JSON
	}
	return img.URL
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
