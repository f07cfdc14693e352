// Package schema models the wire-level JSON shapes the proxy reads and
// writes: the Anthropic Messages request/response/SSE protocol on the
// north face, and the OpenAI Responses API request/output/event protocol
// on the south face. Types here are deliberately hand-modeled against the
// literal JSON the two APIs exchange rather than against a client SDK's
// internal representation, since the proxy must reproduce exact wire
// shapes in both directions.
package schema

import (
	"encoding/json"
	"strings"
)

// MessagesRequest is the Anthropic /v1/messages request body.
type MessagesRequest struct {
	Model      string          `json:"model" validate:"required"`
	Messages   []Message       `json:"messages" validate:"required,min=1,dive"`
	System     *SystemField    `json:"system,omitempty"`
	Tools      []ToolDef       `json:"tools,omitempty"`
	ToolChoice *ToolChoice     `json:"tool_choice,omitempty"`
	MaxTokens  *int            `json:"max_tokens,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
	Extra      json.RawMessage `json:"-"`
}

// SystemField accepts either a bare string or a sequence of text blocks.
type SystemField struct {
	Text   string
	Blocks []ContentBlock
}

func (s *SystemField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	s.Blocks = blocks
	return nil
}

func (s SystemField) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// Message is one turn in the conversation; content is either a bare string
// or an ordered sequence of tagged content blocks.
type Message struct {
	Role    string         `json:"role" validate:"required,oneof=user assistant"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts either a bare string or a block sequence.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Text = str
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// PlainText concatenates the text of every text block (or returns the bare
// string form), ignoring tool_use/tool_result/server_tool_use blocks. Used
// by the token-count seed, which only needs a rough text approximation of
// message content, not a faithful reconstruction.
func (c MessageContent) PlainText() (string, error) {
	if c.Blocks == nil {
		return c.Text, nil
	}
	var out strings.Builder
	for _, b := range c.Blocks {
		if b.Type != "text" {
			continue
		}
		out.WriteString(b.Text)
	}
	return out.String(), nil
}

// ContentBlock is the tagged union of Anthropic content block kinds. Only
// fields relevant to the block's Type are populated; unused fields are
// left zero.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text        string       `json:"text,omitempty"`
	Annotations []Annotation `json:"citations,omitempty"`

	// tool_use / server_tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result (Content is a ToolResultContent union) and
	// web_search_tool_result (Content is a []WebSearchResult array) share
	// the wire key "content" but have different shapes; callers use
	// ToolResultContentValue/WebSearchResultsValue to decode on demand.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ToolResultContentValue decodes Content as a tool_result union.
func (b ContentBlock) ToolResultContentValue() (ToolResultContent, error) {
	var v ToolResultContent
	if len(b.Content) == 0 {
		return v, nil
	}
	err := json.Unmarshal(b.Content, &v)
	return v, err
}

// WebSearchResultsValue decodes Content as a web_search_tool_result array.
func (b ContentBlock) WebSearchResultsValue() ([]WebSearchResult, error) {
	if len(b.Content) == 0 {
		return nil, nil
	}
	var v []WebSearchResult
	err := json.Unmarshal(b.Content, &v)
	return v, err
}

// SetWebSearchResults encodes results into Content for a web_search_tool_result block.
func (b *ContentBlock) SetWebSearchResults(results []WebSearchResult) {
	if results == nil {
		results = []WebSearchResult{}
	}
	raw, _ := json.Marshal(results)
	b.Content = raw
}

// SetToolResultText encodes a plain string into Content for a tool_result block.
func (b *ContentBlock) SetToolResultText(text string) {
	raw, _ := json.Marshal(text)
	b.Content = raw
}

// ToolResultContent accepts a bare string, a text-block sequence, or an
// opaque JSON object, matching the Anthropic Messages API's tool_result
// content variants.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
	Object json.RawMessage
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Text = str
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		c.Blocks = blocks
		return nil
	}
	c.Object = append(json.RawMessage(nil), data...)
	return nil
}

func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	if len(c.Object) > 0 {
		return c.Object, nil
	}
	return json.Marshal(c.Text)
}

// Annotation is a citation attached to a text span.
type Annotation struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	CitedText  string `json:"cited_text,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// WebSearchResult is one entry in a web_search_tool_result block's content.
type WebSearchResult struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	PageAge string `json:"page_age,omitempty"`
}

// ToolDef is an Anthropic tool definition.
type ToolDef struct {
	Type            string          `json:"type,omitempty"`
	Name            string          `json:"name" validate:"required"`
	Description     string          `json:"description,omitempty"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	Strict          *bool           `json:"strict,omitempty"`
	MaxUses         *int            `json:"max_uses,omitempty"`
	AllowedDomains  []string        `json:"allowed_domains,omitempty"`
	UserLocation    json.RawMessage `json:"user_location,omitempty"`
}

// ToolChoice accepts a bare string ("auto"/"none"/"any") or a specific tool
// name selector.
type ToolChoice struct {
	Mode string
	Name string
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		t.Mode = str
		return nil
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Mode = obj.Type
	t.Name = obj.Name
	return nil
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Name != "" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}{Type: "tool", Name: t.Name})
	}
	return json.Marshal(t.Mode)
}

// MessageResponse is the non-streaming Anthropic response body.
type MessageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage is the Anthropic four-field usage shape; all fields always present.
type Usage struct {
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// CountTokensResponse is the /v1/messages/count_tokens response body.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
