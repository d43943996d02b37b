package bot

import (
	"fmt"
	"strings"

	"botdash/internal/filter"
	"botdash/internal/model"
)

// ListingArgs holds the parsed arguments of /listings.
type ListingArgs struct {
	Status   filter.Status
	Category filter.Category
}

// ParseListingArgs parses arguments for /listings.
// Format: [status] [category], in any order.
func ParseListingArgs(args string) (ListingArgs, error) {
	out := ListingArgs{Status: filter.StatusAll, Category: filter.CategoryAll}
	seenStatus, seenCategory := false, false
	for _, tok := range strings.Fields(args) {
		if st, err := filter.ParseStatus(tok); err == nil && !seenStatus {
			out.Status = st
			seenStatus = true
			continue
		}
		c, err := filter.ParseCategory(tok)
		if err != nil || seenCategory {
			return ListingArgs{}, fmt.Errorf("invalid filter %q, use: [all|open|sent|deleted] [normal|abholung|defekt]", tok)
		}
		out.Category = c
		seenCategory = true
	}
	return out, nil
}

// ModerationArgs holds the parsed arguments of /filtered.
type ModerationArgs struct {
	Moderation filter.Moderation
	Query      string
}

// ParseModerationArgs parses arguments for /filtered.
// Format: [all|passed|rejected] [query]. A first word that is not a
// moderation filter starts the query.
func ParseModerationArgs(args string) ModerationArgs {
	out := ModerationArgs{Moderation: filter.ModerationAll}
	head, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	m, err := filter.ParseModeration(head)
	if err != nil {
		out.Query = strings.TrimSpace(args)
		return out
	}
	out.Moderation = m
	out.Query = strings.TrimSpace(rest)
	return out
}

// ParseIDArg extracts a listing or template ID from a command argument string.
func ParseIDArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", fmt.Errorf("ID is required")
	}
	return parts[0], nil
}

// ParseCategoryArgs extracts a listing ID and category.
func ParseCategoryArgs(args string) (string, model.Category, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("usage: /category <id> <normal|abholung|defekt>")
	}
	c, ok := model.ParseCategory(parts[1])
	if !ok {
		return "", "", fmt.Errorf("invalid category %q, use: normal, abholung, defekt", parts[1])
	}
	return parts[0], c, nil
}

// TemplateArgs holds the parsed arguments of /addtemplate and /edittemplate.
type TemplateArgs struct {
	Head    string
	Name    string
	Content string
}

// ParseTemplateArgs parses "<head> <name> | <content>", where head is the
// template kind for /addtemplate and the template ID for /edittemplate.
func ParseTemplateArgs(args string) (TemplateArgs, error) {
	head, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	name, content, ok := strings.Cut(rest, "|")
	if head == "" || !ok {
		return TemplateArgs{}, fmt.Errorf("usage: <kind|id> <name> | <content>")
	}
	out := TemplateArgs{
		Head:    head,
		Name:    strings.TrimSpace(name),
		Content: strings.TrimSpace(content),
	}
	if out.Name == "" || out.Content == "" {
		return TemplateArgs{}, fmt.Errorf("template name and content cannot be empty")
	}
	return out, nil
}

// ParseTemplateKind maps user input to a template kind. Empty means messages.
func ParseTemplateKind(s string) (model.TemplateKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "message", "messages":
		return model.TemplateMessage, nil
	case "prompt", "prompts":
		return model.TemplatePrompt, nil
	}
	return "", fmt.Errorf("invalid template kind %q, use: message, prompt", s)
}

// ParseSetArgs extracts a config key and value. The value may contain spaces
// and may be empty.
func ParseSetArgs(args string) (string, string, error) {
	key, value, _ := strings.Cut(strings.TrimSpace(args), " ")
	if key == "" {
		return "", "", fmt.Errorf("usage: /set <KEY> <value>")
	}
	return key, strings.TrimSpace(value), nil
}
