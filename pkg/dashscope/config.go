package dashscope

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Default service endpoints.
const (
	// DefaultBaseURL is the DashScope HTTP API endpoint.
	DefaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

	// DefaultWebsocketURL is the DashScope realtime (duplex) endpoint.
	DefaultWebsocketURL = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
)

// Environment variables read by NewConfig.
const (
	EnvAPIKey       = "DASHSCOPE_API_KEY"
	EnvBaseURL      = "DASHSCOPE_API_URL"
	EnvWebsocketURL = "DASHSCOPE_WEBSOCKET_URL"
	EnvWorkspace    = "DASHSCOPE_WORKSPACE"
)

// DefaultRequestTimeout bounds synchronous (non-streaming) requests.
const DefaultRequestTimeout = 300 * time.Second

type Config struct {
	apiKey       string
	baseURL      string
	websocketURL string
	workspace    string
	timeout      time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

// NewConfig builds a Config from the environment. The API key is read from
// DASHSCOPE_API_KEY; endpoints fall back to the public DashScope addresses.
func NewConfig() Config {
	config := Config{
		apiKey:       os.Getenv(EnvAPIKey),
		baseURL:      os.Getenv(EnvBaseURL),
		websocketURL: os.Getenv(EnvWebsocketURL),
		workspace:    os.Getenv(EnvWorkspace),
		timeout:      DefaultRequestTimeout,
		logger:       zerolog.Nop(),
	}
	if config.baseURL == "" {
		config.baseURL = DefaultBaseURL
	}
	if config.websocketURL == "" {
		config.websocketURL = DefaultWebsocketURL
	}
	return config
}

func (c Config) WithAPIKey(apiKey string) Config {
	c.apiKey = apiKey
	return c
}

func (c Config) WithBaseURL(baseURL string) Config {
	c.baseURL = baseURL
	return c
}

func (c Config) WithWebsocketURL(websocketURL string) Config {
	c.websocketURL = websocketURL
	return c
}

// WithWorkspace sets the DashScope workspace id, injected on every request
// as the X-DashScope-WorkSpace header.
func (c Config) WithWorkspace(workspace string) Config {
	c.workspace = workspace
	return c
}

// WithTimeout bounds synchronous requests. Streaming requests ignore it and
// rely on context cancellation instead.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.timeout = timeout
	return c
}

// WithHTTPClient replaces the underlying *http.Client.
func (c Config) WithHTTPClient(hc *http.Client) Config {
	c.httpClient = hc
	return c
}

// WithLogger installs a structured logger. The default logger discards
// everything; request and stream payloads are logged at debug level.
func (c Config) WithLogger(l zerolog.Logger) Config {
	c.logger = l
	return c
}

func (c Config) APIKey() string         { return c.apiKey }
func (c Config) BaseURL() string        { return c.baseURL }
func (c Config) WebsocketURL() string   { return c.websocketURL }
func (c Config) Workspace() string      { return c.workspace }
func (c Config) Logger() zerolog.Logger { return c.logger }
