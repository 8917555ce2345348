package prefabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gtplanner/gtplanner/pkg/httpclient"
)

// Long-running prefab functions (model training, batch jobs) can run for
// many minutes; the gateway timeout reflects that.
const gatewayTimeout = 20 * time.Minute

// Result content fields longer than this are truncated before being fed
// back to the model.
const maxContentLength = 2000

const truncationMarker = "... [content truncated, %d of %d chars shown]"

// ErrGatewayDisabled reports that no gateway credentials are configured.
var ErrGatewayDisabled = errors.New("prefab gateway disabled: AGENT_BUILDER_API_KEY not set")

// GatewayConfig configures the remote prefab gateway client.
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// GatewayClient invokes functions on remote prefabs through the prefab
// gateway and looks up per-function documentation.
type GatewayClient struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
}

func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	return &GatewayClient{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: gatewayTimeout}),
		),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Enabled reports whether gateway calls can be made at all.
func (g *GatewayClient) Enabled() bool {
	return g != nil && g.baseURL != "" && g.apiKey != ""
}

type callRequest struct {
	PrefabID     string            `json:"prefab_id"`
	Version      string            `json:"version,omitempty"`
	FunctionName string            `json:"function_name"`
	Parameters   map[string]any    `json:"parameters,omitempty"`
	Files        map[string]string `json:"files,omitempty"`
}

// CallFunction invokes one named function of a prefab and returns its raw
// result object. Oversized content strings in the result are truncated so
// a single call cannot flood the conversation.
func (g *GatewayClient) CallFunction(ctx context.Context, prefabID, version, functionName string, parameters map[string]any, files map[string]string) (map[string]any, error) {
	if !g.Enabled() {
		return nil, ErrGatewayDisabled
	}

	result, err := g.post(ctx, "/prefabs/call", callRequest{
		PrefabID:     prefabID,
		Version:      version,
		FunctionName: functionName,
		Parameters:   parameters,
		Files:        files,
	})
	if err != nil {
		return nil, err
	}
	return truncateContent(result), nil
}

// FunctionDetail fetches the documentation of one prefab function, used
// when assembling the prefab usage companion document.
func (g *GatewayClient) FunctionDetail(ctx context.Context, prefabID, version, functionName string) (map[string]any, error) {
	if !g.Enabled() {
		return nil, ErrGatewayDisabled
	}

	url := fmt.Sprintf("/prefabs/%s/functions/%s", prefabID, functionName)
	if version != "" {
		url += "?version=" + version
	}

	req, err := httpclient.NewRequest(ctx, http.MethodGet, g.baseURL+url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return g.do(req)
}

func (g *GatewayClient) post(ctx context.Context, path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := httpclient.NewRequest(ctx, http.MethodPost, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

func (g *GatewayClient) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return result, nil
}

// truncateContent caps every string under a "content" key, recursively.
func truncateContent(v map[string]any) map[string]any {
	for key, value := range v {
		switch typed := value.(type) {
		case string:
			if key == "content" && len(typed) > maxContentLength {
				v[key] = typed[:maxContentLength] + fmt.Sprintf(truncationMarker, maxContentLength, len(typed))
			}
		case map[string]any:
			v[key] = truncateContent(typed)
		case []any:
			for i, item := range typed {
				if m, ok := item.(map[string]any); ok {
					typed[i] = truncateContent(m)
				}
			}
		}
	}
	return v
}
