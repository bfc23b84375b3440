package core

import (
	"errors"
	"strings"

	"github.com/bytedance/sonic"
)

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
)

// LLMMessage represents a message exchanged with a chat model.
type LLMMessage struct {
	Role    LLMMessageRole `json:"role"`
	Message string         `json:"message"`
}

type LLMContext struct {
	Messages []LLMMessage
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

func (c *LLMContext) AddUserMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text})
}

// ReasoningRequest is what the reasoning service receives for one turn.
// History is the trailing window and never contains Message itself.
type ReasoningRequest struct {
	Message      string `json:"message"`
	History      []Turn `json:"history"`
	SystemPrompt string `json:"-"`
}

// LLMContext renders the request as chat messages for model-backed services.
func (r ReasoningRequest) LLMContext() LLMContext {
	var c LLMContext
	if r.SystemPrompt != "" {
		c.AddSystemMessage(r.SystemPrompt)
	}
	for _, t := range r.History {
		if t.Role == RoleAgent {
			c.AddAssistantMessage(t.Content)
		} else {
			c.AddUserMessage(t.Content)
		}
	}
	c.AddUserMessage(r.Message)
	return c
}

var ErrInvalidReply = errors.New("reply is not a structured JSON object")

// ParseStructuredReply decodes a model's JSON answer. Code fences and text
// around the outermost object are tolerated.
func ParseStructuredReply(raw string) (StructuredReply, error) {
	var reply StructuredReply
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return reply, ErrInvalidReply
	}
	if err := sonic.UnmarshalString(s[start:end+1], &reply); err != nil {
		return reply, errors.Join(ErrInvalidReply, err)
	}
	return reply, nil
}
