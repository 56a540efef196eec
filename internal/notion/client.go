package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion http %d: %s", e.StatusCode, e.Message)
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	APIVersion string
	UserAgent  string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	baseURL    string
	token      string
	apiVersion string
	userAgent  string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type searchRequest struct {
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

type listEnvelope struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

type parentObject struct {
	Type       string `json:"type"`
	PageID     string `json:"page_id,omitempty"`
	DatabaseID string `json:"database_id,omitempty"`
	BlockID    string `json:"block_id,omitempty"`
	Workspace  bool   `json:"workspace,omitempty"`
}

func (p parentObject) id() string {
	switch p.Type {
	case "page_id":
		return p.PageID
	case "database_id":
		return p.DatabaseID
	case "block_id":
		return p.BlockID
	}
	return ""
}

type richTextObject struct {
	PlainText   string `json:"plain_text"`
	Href        string `json:"href"`
	Annotations struct {
		Bold          bool `json:"bold"`
		Italic        bool `json:"italic"`
		Code          bool `json:"code"`
		Strikethrough bool `json:"strikethrough"`
	} `json:"annotations"`
}

type nodeObject struct {
	Object         string                    `json:"object"`
	ID             string                    `json:"id"`
	LastEditedTime string                    `json:"last_edited_time"`
	Parent         parentObject              `json:"parent"`
	Title          []richTextObject          `json:"title"`
	Properties     map[string]propertyObject `json:"properties"`
}

type propertyObject struct {
	Type        string           `json:"type"`
	Title       []richTextObject `json:"title"`
	Select      *selectOption    `json:"select"`
	Status      *selectOption    `json:"status"`
	MultiSelect []selectOption   `json:"multi_select"`
}

type selectOption struct {
	Name string `json:"name"`
}

type fileObject struct {
	Type     string           `json:"type"`
	Caption  []richTextObject `json:"caption"`
	Name     string           `json:"name"`
	File     *hostedFile      `json:"file"`
	External *externalFile    `json:"external"`
}

type hostedFile struct {
	URL string `json:"url"`
}

type externalFile struct {
	URL string `json:"url"`
}

func (f fileObject) url() string {
	if f.File != nil {
		return f.File.URL
	}
	if f.External != nil {
		return f.External.URL
	}
	return ""
}

type blockObject struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	Paragraph        *textPayload `json:"paragraph"`
	Heading1         *textPayload `json:"heading_1"`
	Heading2         *textPayload `json:"heading_2"`
	Heading3         *textPayload `json:"heading_3"`
	BulletedListItem *textPayload `json:"bulleted_list_item"`
	NumberedListItem *textPayload `json:"numbered_list_item"`
	Quote            *textPayload `json:"quote"`
	Code             *codePayload `json:"code"`
	Image            *fileObject  `json:"image"`
	File             *fileObject  `json:"file"`
}

type textPayload struct {
	RichText []richTextObject `json:"rich_text"`
}

type codePayload struct {
	RichText []richTextObject `json:"rich_text"`
	Language string           `json:"language"`
}

// ListNodes pulls the complete flat node listing (pages and databases)
// from the search endpoint, following cursors until exhausted.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	cursor := ""
	for {
		req := searchRequest{StartCursor: cursor, PageSize: 100}
		var envelope listEnvelope
		if err := c.doJSON(ctx, http.MethodPost, "/v1/search", req, &envelope); err != nil {
			return nil, err
		}
		for _, raw := range envelope.Results {
			var obj nodeObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}
			node, ok := nodeFromObject(obj)
			if !ok {
				continue
			}
			nodes = append(nodes, node)
		}
		if !envelope.HasMore || envelope.NextCursor == nil || *envelope.NextCursor == "" {
			break
		}
		cursor = *envelope.NextCursor
	}
	return nodes, nil
}

func nodeFromObject(obj nodeObject) (Node, bool) {
	var kind NodeKind
	switch obj.Object {
	case "page":
		kind = NodeKindPage
	case "database":
		kind = NodeKindDatabase
	default:
		return Node{}, false
	}
	if strings.TrimSpace(obj.ID) == "" {
		return Node{}, false
	}
	parentID := ""
	if !obj.Parent.Workspace && obj.Parent.Type != "workspace" {
		parentID = obj.Parent.id()
	}
	return Node{
		ID:       obj.ID,
		Title:    nodeTitle(obj),
		Kind:     kind,
		ParentID: parentID,
		Revision: obj.LastEditedTime,
	}, true
}

func nodeTitle(obj nodeObject) string {
	if len(obj.Title) > 0 {
		return plainText(obj.Title)
	}
	for _, prop := range obj.Properties {
		if prop.Type == "title" {
			return plainText(prop.Title)
		}
	}
	return "Untitled"
}

func plainText(runs []richTextObject) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.PlainText)
	}
	title := strings.TrimSpace(b.String())
	if title == "" {
		return "Untitled"
	}
	return title
}

// BlockTree fetches the block children of a node and descends into
// every block that reports children of its own.
func (c *Client) BlockTree(ctx context.Context, nodeID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		path := fmt.Sprintf("/v1/blocks/%s/children?page_size=100", nodeID)
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}
		var envelope listEnvelope
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &envelope); err != nil {
			return nil, err
		}
		for _, raw := range envelope.Results {
			var obj blockObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}
			block := blockFromObject(obj)
			if obj.HasChildren && obj.Type != "child_page" && obj.Type != "child_database" {
				children, err := c.BlockTree(ctx, obj.ID)
				if err != nil {
					return nil, err
				}
				block.Children = children
			}
			blocks = append(blocks, block)
		}
		if !envelope.HasMore || envelope.NextCursor == nil || *envelope.NextCursor == "" {
			break
		}
		cursor = *envelope.NextCursor
	}
	return blocks, nil
}

func blockFromObject(obj blockObject) Block {
	block := Block{ID: obj.ID, Type: obj.Type}
	switch obj.Type {
	case "paragraph":
		block.Text = richTextRuns(obj.Paragraph)
	case "heading_1":
		block.Text = richTextRuns(obj.Heading1)
	case "heading_2":
		block.Text = richTextRuns(obj.Heading2)
	case "heading_3":
		block.Text = richTextRuns(obj.Heading3)
	case "bulleted_list_item":
		block.Text = richTextRuns(obj.BulletedListItem)
	case "numbered_list_item":
		block.Text = richTextRuns(obj.NumberedListItem)
	case "quote":
		block.Text = richTextRuns(obj.Quote)
	case "code":
		if obj.Code != nil {
			block.Text = convertRuns(obj.Code.RichText)
			block.Language = obj.Code.Language
		}
	case "image":
		if obj.Image != nil {
			block.AssetURL = obj.Image.url()
			block.Caption = strings.TrimSpace(rawPlainText(obj.Image.Caption))
		}
	case "file":
		if obj.File != nil {
			block.AssetURL = obj.File.url()
			block.Caption = strings.TrimSpace(obj.File.Name)
			if block.Caption == "" {
				block.Caption = strings.TrimSpace(rawPlainText(obj.File.Caption))
			}
		}
	}
	return block
}

func richTextRuns(payload *textPayload) []RichText {
	if payload == nil {
		return nil
	}
	return convertRuns(payload.RichText)
}

func convertRuns(runs []richTextObject) []RichText {
	out := make([]RichText, 0, len(runs))
	for _, run := range runs {
		out = append(out, RichText{
			PlainText:     run.PlainText,
			Bold:          run.Annotations.Bold,
			Italic:        run.Annotations.Italic,
			Code:          run.Annotations.Code,
			Strikethrough: run.Annotations.Strikethrough,
			Href:          run.Href,
		})
	}
	return out
}

func rawPlainText(runs []richTextObject) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.PlainText)
	}
	return b.String()
}

// ListProperties retrieves the typed property fields of a page. Only
// choice-bearing property types carry values.
func (c *Client) ListProperties(ctx context.Context, nodeID string) ([]Property, error) {
	var page struct {
		Properties map[string]propertyObject `json:"properties"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/pages/"+nodeID, nil, &page); err != nil {
		return nil, err
	}
	// Map iteration order would reorder the rendered tag line between
	// passes; sort so identical content renders identically.
	names := make([]string, 0, len(page.Properties))
	for name := range page.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	props := make([]Property, 0, len(names))
	for _, name := range names {
		obj := page.Properties[name]
		prop := Property{Name: name, Type: obj.Type}
		switch obj.Type {
		case "select":
			if obj.Select != nil && strings.TrimSpace(obj.Select.Name) != "" {
				prop.Values = []string{obj.Select.Name}
			}
		case "status":
			if obj.Status != nil && strings.TrimSpace(obj.Status.Name) != "" {
				prop.Values = []string{obj.Status.Name}
			}
		case "multi_select":
			for _, option := range obj.MultiSelect {
				if strings.TrimSpace(option.Name) != "" {
					prop.Values = append(prop.Values, option.Name)
				}
			}
		}
		props = append(props, prop)
	}
	return props, nil
}

// Download fetches a binary asset. Asset URLs are pre-signed and live
// outside the API base, so no auth headers are attached.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return data, nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: "asset download failed"}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return fmt.Errorf("notion token is empty")
	}
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		message := strings.TrimSpace(errPayload.Message)
		if message == "" {
			message = strings.TrimSpace(string(payload))
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    message,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
