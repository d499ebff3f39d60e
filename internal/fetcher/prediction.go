package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	chatCompletionsPath = "/v1/openai/chat/completions"
	forecastPath        = "/v1/chat/forecast"
)

// PredictorOptions parameterise the prediction-service client.
type PredictorOptions struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	UserAgent    string
}

// PredictionClient talks to the news-grounded chat and forecast API.
type PredictionClient struct {
	opts    PredictorOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPredictionClient constructs a client authenticated with OAuth2 client
// credentials. Tokens are fetched lazily and cached by the transport.
func NewPredictionClient(opts PredictorOptions, logger zerolog.Logger) *PredictionClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.asknews.app"
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = "https://auth.asknews.app/oauth2/token"
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{"chat", "news", "stories"}
	}

	creds := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second})
	client := creds.Client(tokenCtx)
	client.Timeout = timeout

	return &PredictionClient{
		opts:    opts,
		logger:  logger.With().Str("component", "prediction_client").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// Predict issues a chat completion or, for forecast requests, a structured forecast.
func (c *PredictionClient) Predict(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	if req.Model == "" {
		return nil, errors.New("model is required")
	}
	if req.Forecast {
		return c.forecast(ctx, req)
	}
	return c.complete(ctx, req)
}

func (c *PredictionClient) complete(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	payload := chatRequest{
		Model:                   req.Model,
		Messages:                []chatMessage{{Role: "user", Content: req.Query}},
		Stream:                  false,
		InlineCitations:         "none",
		AppendReferences:        false,
		JournalistMode:          false,
		AsknewsWatermark:        false,
		ConversationalAwareness: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgentOr(c.opts.UserAgent))

	raw, err := do(c.client, c.logger, "prediction", httpReq)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, nil
	}
	return &Prediction{Text: resp.Choices[0].Message.Content}, nil
}

func (c *PredictionClient) forecast(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("model", req.Model)
	params.Set("web_search", strconv.FormatBool(req.Options.WebSearch))
	if req.AdditionalContext != "" {
		params.Set("additional_context", req.AdditionalContext)
	}
	if req.Options.Articles > 0 {
		params.Set("articles_to_use", strconv.Itoa(req.Options.Articles))
	}
	if req.Options.Lookback > 0 {
		params.Set("lookback", strconv.Itoa(req.Options.Lookback))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+forecastPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgentOr(c.opts.UserAgent))

	raw, err := do(c.client, c.logger, "prediction", httpReq)
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse forecast response: %w", err)
	}
	if resp.Forecast == nil || strings.TrimSpace(resp.Forecast.Forecast) == "" {
		return nil, nil
	}
	return &Prediction{Forecast: resp.Forecast}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model                   string        `json:"model"`
	Messages                []chatMessage `json:"messages"`
	Stream                  bool          `json:"stream"`
	InlineCitations         string        `json:"inline_citations"`
	AppendReferences        bool          `json:"append_references"`
	JournalistMode          bool          `json:"journalist_mode"`
	AsknewsWatermark        bool          `json:"asknews_watermark"`
	ConversationalAwareness bool          `json:"conversational_awareness"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type forecastResponse struct {
	AsOf     string    `json:"as_of"`
	Forecast *Forecast `json:"forecast"`
}

var _ Predictor = (*PredictionClient)(nil)
