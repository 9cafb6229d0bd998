package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/crm/internal/models"
)

// ExtractedLead holds a single lead extracted from free text.
type ExtractedLead struct {
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	Source      string   `json:"source"`
	Interest    string   `json:"interest"`
	Temperature string   `json:"temperature"`
	Budget      string   `json:"budget"`
	Tags        []string `json:"tags"`
	Notes       string   `json:"notes"`
}

// Suggestion is a proposed next touchpoint for a lead.
type Suggestion struct {
	Task      string `json:"task"`
	Type      string `json:"type"`
	DueInDays int    `json:"due_in_days"`
	Reason    string `json:"reason"`
}

// Client wraps the Anthropic API for lead extraction and suggestions.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildExtractPrompt constructs the system and user prompts for lead extraction.
func buildExtractPrompt(content string) (system string, user string) {
	system = `You extract real-estate leads from notes, enquiry emails, spreadsheets pasted as text, or call logs. Return ONLY a JSON array of objects with these fields:
- "name": the person's full name
- "phone": phone number as written
- "email": email address, or empty string
- "source": one of "Zillow", "Facebook", "Referral", "Website", "Direct"
- "interest": one of "Buying", "Selling", "Renting"
- "temperature": one of "Hot", "Warm", "Cold"
- "budget": budget exactly as written, keeping the rupee sign and units (e.g. "₹3.73 Cr", "₹45 L", "₹4 Cr - ₹6 Cr"), or empty string
- "tags": short property preferences such as "3BHK" or "Sea view", as an array of strings
- "notes": anything else worth keeping about the person, or empty string

Rules:
- One object per person; merge repeated mentions of the same person
- Skip entries with neither a name nor a phone number
- Default source to "Direct", interest to "Buying" and temperature to "Cold" unless the text suggests otherwise
- Urgent language ("ready to close", "this week", "site visit booked") means "Hot"; casual interest means "Warm"
- Never invent phone numbers, emails or budgets
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Extract leads from this text:\n\n")
	sb.WriteString(content)
	user = sb.String()
	return
}

// ExtractLeads sends free text to the LLM and returns structured leads.
func (c *Client) ExtractLeads(ctx context.Context, content string) ([]ExtractedLead, error) {
	systemPrompt, userPrompt := buildExtractPrompt(content)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 4096)
	if err != nil {
		return nil, err
	}

	var leads []ExtractedLead
	if err := json.Unmarshal([]byte(text), &leads); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return leads, nil
}

// buildSuggestPrompt constructs the system and user prompts for a next-action suggestion.
func buildSuggestPrompt(lead *models.Lead, now time.Time) (system string, user string) {
	system = `You are an assistant to a real-estate agent in India. Given a lead and their activity history, suggest the single best next touchpoint. Return a JSON object with exactly these fields:
- "task": a short imperative description, e.g. "Share floor plans for the Bandra listing"
- "type": one of "Call", "Meeting", "Email", "Task"
- "due_in_days": whole days from today, 0 for today
- "reason": one sentence explaining the choice

Rules:
- Hot leads should be contacted within 1 day, Warm within 3, Cold within 7
- Do not repeat an activity that already happened today
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Today: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Lead: %s\n", lead.Name)
	fmt.Fprintf(&sb, "Status: %s\nTemperature: %s\nInterest: %s\nSource: %s\n", lead.Status, lead.Temperature, lead.Interest, lead.Source)
	if lead.Budget != "" {
		fmt.Fprintf(&sb, "Budget: %s\n", lead.Budget)
	}
	if len(lead.Tags) > 0 {
		fmt.Fprintf(&sb, "Preferences: %s\n", strings.Join(lead.Tags, ", "))
	}
	if lead.Notes != "" {
		fmt.Fprintf(&sb, "Notes: %s\n", lead.Notes)
	}
	if lead.NextAction != nil {
		fmt.Fprintf(&sb, "Current next action: %s on %s\n", lead.NextAction.Task, lead.NextAction.Date.Format("2006-01-02"))
	}
	if len(lead.History) > 0 {
		sb.WriteString("\nHistory (oldest first):\n")
		for _, h := range lead.History {
			fmt.Fprintf(&sb, "- %s [%s] %s\n", h.At.Format("2006-01-02"), h.Type, h.Summary)
		}
	}
	user = sb.String()
	return
}

// SuggestNextAction asks the LLM for the next touchpoint with lead.
func (c *Client) SuggestNextAction(ctx context.Context, lead *models.Lead, now time.Time) (*Suggestion, error) {
	systemPrompt, userPrompt := buildSuggestPrompt(lead, now)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 1024)
	if err != nil {
		return nil, err
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if s.DueInDays < 0 {
		s.DueInDays = 0
	}
	return &s, nil
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFencing(text), nil
}

// stripFencing removes a surrounding ``` block if the model added one.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
