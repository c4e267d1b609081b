package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/internal/classify"
	"github.com/fieldops/docsorter/internal/entity"
	"github.com/fieldops/docsorter/internal/resilience"
)

// ClassifyByText implements classify.Provider using text-only
// chat/completions with a schema-constrained JSON answer.
func (c *Client) ClassifyByText(ctx context.Context, text string, entities []*entity.Entity) (classify.Inference, error) {
	user := "Document text (OCR):\n\"\"\"\n" + text + "\n\"\"\""
	messages := []map[string]any{
		{"role": "system", "content": buildSystemPrompt(entities)},
		{"role": "user", "content": user},
		{"role": "system", "content": "JSON Schema:\n" + mustJSON(classificationSchema())},
	}
	return c.complete(ctx, "openai.classify_text", c.cfg.TextModel, messages)
}

// ClassifyByImage implements the vision path: the original image is sent
// as a base64 data URL content part alongside the entity roster.
func (c *Client) ClassifyByImage(ctx context.Context, imagePath string, entities []*entity.Entity) (classify.Inference, error) {
	dataURL, err := readAsDataURL(imagePath)
	if err != nil {
		return classify.Inference{}, fmt.Errorf("read image for vision call: %w", err)
	}
	messages := []map[string]any{
		{"role": "system", "content": buildSystemPrompt(entities)},
		{"role": "user", "content": []map[string]any{
			{"type": "text", "text": "Identify which entity this photographed document belongs to."},
			{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
		}},
		{"role": "system", "content": "JSON Schema:\n" + mustJSON(classificationSchema())},
	}
	return c.complete(ctx, "openai.classify_vision", c.cfg.VisionModel, messages)
}

func (c *Client) complete(ctx context.Context, operation, model string, messages []map[string]any) (classify.Inference, error) {
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info(operation+".start", "req_id", rid, "model", model, "temp", c.cfg.Temperature)

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        messages,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	var raw []byte
	call := func(ctx context.Context) error {
		var err error
		raw, err = c.post(ctx, endpoint, body)
		return err
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.log.Error(operation+".http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return classify.Inference{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error(operation+".decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return classify.Inference{}, fmt.Errorf("decode provider response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error(operation+".no_choices", "req_id", rid, "raw", string(raw))
		return classify.Inference{}, fmt.Errorf("no choices in provider response")
	}

	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	if err := validateAgainstSchema(classificationSchema(), content); err != nil {
		c.log.Error(operation+".schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content))
		return classify.Inference{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var out struct {
		EntityName string  `json:"entity_name"`
		EntityCode string  `json:"entity_code"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal(content, &out); err != nil {
		return classify.Inference{}, fmt.Errorf("unmarshal classification: %w", err)
	}

	cost := c.costUSD(cc.Usage.PromptTokens, cc.Usage.CompletionTokens)
	c.log.Info(operation+".ok",
		"req_id", rid,
		"entity_name", out.EntityName,
		"entity_code", out.EntityCode,
		"confidence", out.Confidence,
		"prompt_tokens", cc.Usage.PromptTokens,
		"completion_tokens", cc.Usage.CompletionTokens,
		"cost_usd", cost,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return classify.Inference{
		EntityName: out.EntityName,
		EntityCode: out.EntityCode,
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
		CostUSD:    cost,
	}, nil
}

func (c *Client) costUSD(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000.0*c.cfg.PromptPer1KUSD +
		float64(completionTokens)/1000.0*c.cfg.OutputPer1KUSD
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider http error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("provider response body close error", "error", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: buf.String()}
	}
	return buf.Bytes(), nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.code, e.body)
}

// classifyHTTPError marks 5xx and 429 responses (and transport errors) as
// retryable; 4xx client errors fail fast and do not trip the breaker.
func classifyHTTPError(err error) resilience.ErrorClassification {
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests || se.code >= 500 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
