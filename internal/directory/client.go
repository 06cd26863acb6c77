package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// ErrUnsupportedProvider is returned for providers with no message listing API.
var ErrUnsupportedProvider = errors.New("provider has no message listing endpoint")

const maxResponseBytes = 4 << 20

// endpoint describes how to list messages for one provider.
type endpoint struct {
	defaultBaseURL string
	path           func(acc *v1.Account) (string, error)
	authorize      func(req *http.Request, acc *v1.Account)
	decode         func(body []byte) ([]v1.MessageMetadata, error)
}

var endpoints = map[v1.Provider]endpoint{
	v1.ProviderSparkPost: {
		defaultBaseURL: "https://api.sparkpost.com",
		path:           staticPath("/api/v1/templates"),
		authorize:      headerAuth("Authorization", ""),
		decode:         decodeSparkPost,
	},
	v1.ProviderSendGrid: {
		defaultBaseURL: "https://api.sendgrid.com",
		path:           staticPath("/v3/templates?generations=dynamic"),
		authorize:      headerAuth("Authorization", "Bearer "),
		decode:         decodeSendGrid,
	},
	v1.ProviderMailgun: {
		defaultBaseURL: "https://api.mailgun.net",
		path: func(acc *v1.Account) (string, error) {
			domain := acc.Credentials["domain"]
			if domain == "" {
				return "", fmt.Errorf("mailgun account %s has no domain credential", acc.ID)
			}
			return "/v3/" + url.PathEscape(domain) + "/templates", nil
		},
		authorize: func(req *http.Request, acc *v1.Account) {
			req.SetBasicAuth("api", acc.Credentials["api_key"])
		},
		decode: decodeMailgun,
	},
	v1.ProviderGeneric: {
		path:      staticPath("/messages"),
		authorize: headerAuth("Authorization", "Bearer "),
		decode:    decodeGeneric,
	},
}

func staticPath(p string) func(*v1.Account) (string, error) {
	return func(*v1.Account) (string, error) { return p, nil }
}

func headerAuth(header, prefix string) func(*http.Request, *v1.Account) {
	return func(req *http.Request, acc *v1.Account) {
		if key := acc.Credentials["api_key"]; key != "" {
			req.Header.Set(header, prefix+key)
		}
	}
}

// Client calls provider APIs with an account's credentials.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a provider client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// TestConnection issues the listing call and discards the result.
func (c *Client) TestConnection(ctx context.Context, account *v1.Account) error {
	if _, err := c.list(ctx, account); err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	return nil
}

// FetchRemoteMessageList returns what the provider knows about the account's messages.
func (c *Client) FetchRemoteMessageList(ctx context.Context, account *v1.Account) ([]v1.MessageMetadata, error) {
	body, err := c.list(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("fetching message list: %w", err)
	}
	ep := endpoints[account.Provider]
	msgs, err := ep.decode(body)
	if err != nil {
		return nil, fmt.Errorf("parsing message list: %w", err)
	}
	return msgs, nil
}

func (c *Client) list(ctx context.Context, account *v1.Account) ([]byte, error) {
	ep, ok := endpoints[account.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, account.Provider)
	}
	base := strings.TrimRight(account.BaseURL, "/")
	if base == "" {
		base = ep.defaultBaseURL
	}
	if base == "" {
		return nil, fmt.Errorf("account %s has no base url", account.ID)
	}
	path, err := ep.path(account)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, base+path, func(req *http.Request) { ep.authorize(req, account) })
}

// doRequest makes a GET request and returns the body of a 200 response.
func (c *Client) doRequest(ctx context.Context, fullURL string, authorize func(*http.Request)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type sparkPostTemplates struct {
	Results []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Content struct {
			Subject string `json:"subject"`
			From    struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"from"`
		} `json:"content"`
	} `json:"results"`
}

func decodeSparkPost(body []byte) ([]v1.MessageMetadata, error) {
	var resp sparkPostTemplates
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]v1.MessageMetadata, 0, len(resp.Results))
	for _, r := range resp.Results {
		subject := r.Content.Subject
		if subject == "" {
			subject = r.Name
		}
		out = append(out, v1.MessageMetadata{
			ExternalID: r.ID,
			Subject:    subject,
			FromName:   r.Content.From.Name,
			FromEmail:  r.Content.From.Email,
		})
	}
	return out, nil
}

type sendGridTemplates struct {
	Result []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Versions []struct {
			Subject string `json:"subject"`
			Active  int    `json:"active"`
		} `json:"versions"`
	} `json:"result"`
}

func decodeSendGrid(body []byte) ([]v1.MessageMetadata, error) {
	var resp sendGridTemplates
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]v1.MessageMetadata, 0, len(resp.Result))
	for _, r := range resp.Result {
		subject := r.Name
		for _, v := range r.Versions {
			if v.Active == 1 && v.Subject != "" {
				subject = v.Subject
				break
			}
		}
		out = append(out, v1.MessageMetadata{ExternalID: r.ID, Subject: subject})
	}
	return out, nil
}

type mailgunTemplates struct {
	Items []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"items"`
}

func decodeMailgun(body []byte) ([]v1.MessageMetadata, error) {
	var resp mailgunTemplates
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]v1.MessageMetadata, 0, len(resp.Items))
	for _, r := range resp.Items {
		subject := r.Description
		if subject == "" {
			subject = r.Name
		}
		out = append(out, v1.MessageMetadata{ExternalID: r.Name, Subject: subject})
	}
	return out, nil
}

func decodeGeneric(body []byte) ([]v1.MessageMetadata, error) {
	var resp struct {
		Messages []v1.MessageMetadata `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}
