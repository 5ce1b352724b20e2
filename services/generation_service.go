package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"

	openai "github.com/sashabaranov/go-openai"
)

// TurnResult is a generated AI turn: the reply text plus an optional
// correction of the user's last message.
type TurnResult struct {
	Text       string
	Correction string
}

// GenerationOptions carries the non-message context of a generation request.
type GenerationOptions struct {
	Partner            *config.PartnerIdentity
	CorrectionsEnabled bool
	Profile            string // learner profile summary
	NativeLanguage     string
	Topic              string // group lesson topic, substituted for the personal lesson cache
}

// GenerationService is the black-box LLM collaborator. Every call is bounded
// by the configured generation timeout so a stalled provider can never pin a
// conversation's pending-generation guard forever.
type GenerationService interface {
	GenerateTurn(ctx context.Context, history []models.Message, opts GenerationOptions) (*TurnResult, error)
	GenerateWelcome(ctx context.Context, partner *config.PartnerIdentity) (string, error)
	GenerateNudge(ctx context.Context, history []models.Message, opts GenerationOptions) (string, error)
}

type generationService struct{}

// NewGenerationService creates a new instance of GenerationService.
func NewGenerationService() GenerationService {
	return &generationService{}
}

// correctionPrefix marks an optional first line of the model's reply carrying
// a correction of the learner's message.
const correctionPrefix = "Correction:"

func (s *generationService) GenerateTurn(ctx context.Context, history []models.Message, opts GenerationOptions) (*TurnResult, error) {
	if opts.Partner == nil {
		return nil, errors.New("partner identity is required")
	}

	systemPrompt := buildSystemPrompt(opts)
	messages := toChatMessages(systemPrompt, history)

	content, err := s.complete(ctx, opts.Partner.Model, messages, 0.7)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{Text: content}
	if opts.CorrectionsEnabled {
		if correction, rest, ok := splitCorrection(content); ok {
			result.Correction = correction
			result.Text = rest
		}
	}
	return result, nil
}

func (s *generationService) GenerateWelcome(ctx context.Context, partner *config.PartnerIdentity) (string, error) {
	if partner == nil {
		return "", errors.New("partner identity is required")
	}
	prompt := fmt.Sprintf(
		"You are %s, a friendly %s conversation partner. The learner just opened the chat and has not said anything yet. Greet them warmly in one or two short sentences and invite them to start talking.",
		partner.Name, partner.Language,
	)
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(GenerationOptions{Partner: partner})},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	return s.complete(ctx, partner.Model, messages, 0.8)
}

func (s *generationService) GenerateNudge(ctx context.Context, history []models.Message, opts GenerationOptions) (string, error) {
	if opts.Partner == nil {
		return "", errors.New("partner identity is required")
	}
	instruction := "The learner has gone quiet. Send one short, natural follow-up that re-engages them without repeating yourself."
	if opts.NativeLanguage != "" {
		instruction += fmt.Sprintf(" If they seem stuck, you may add a brief hint in %s.", opts.NativeLanguage)
	}

	systemPrompt := buildSystemPrompt(opts)
	messages := toChatMessages(systemPrompt, history)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: instruction,
	})
	return s.complete(ctx, opts.Partner.Model, messages, 0.8)
}

// complete resolves the provider for the model, runs one non-streaming chat
// completion, and returns the reply content.
func (s *generationService) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	providerKey, modelExists := config.AppConfig.LLMModels[model]
	if !modelExists {
		log.Printf("ERROR: [GenerationService] Provider for model '%s' not found in llm_models.", model)
		return "", fmt.Errorf("provider for model '%s' not found", model)
	}
	providerConfig, providerExists := config.AppConfig.LLMProviders[providerKey]
	if !providerExists {
		log.Printf("ERROR: [GenerationService] Provider configuration for key '%s' not found.", providerKey)
		return "", fmt.Errorf("provider configuration for key '%s' not found", providerKey)
	}
	if providerConfig.APIKey == "" || providerConfig.BaseURL == "" {
		log.Printf("ERROR: [GenerationService] API key or BaseURL for provider '%s' is not configured.", providerKey)
		return "", fmt.Errorf("API key or BaseURL for provider '%s' is not configured", providerKey)
	}

	clientConfig := openai.DefaultConfig(providerConfig.APIKey)
	clientConfig.BaseURL = providerConfig.BaseURL
	client := openai.NewClientWithConfig(clientConfig)

	timeout := config.AppConfig.GenerationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	completion, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		log.Printf("ERROR: [GenerationService] Chat completion failed for model %s: %v", model, err)
		return "", fmt.Errorf("chat completion failed for model %s: %w", model, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		log.Printf("WARN: [GenerationService] Model %s returned no content.", model)
		return "", fmt.Errorf("model %s returned no content", model)
	}
	return completion.Choices[0].Message.Content, nil
}

// buildSystemPrompt assembles the partner's persona prompt with placeholder
// substitution, plus the learner profile and (for groups) the shared topic.
func buildSystemPrompt(opts GenerationOptions) string {
	partner := opts.Partner
	prompt := partner.CustomPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s, a %s conversation partner helping a learner practice %s. Keep replies short and conversational.",
			partner.Name, partner.Personality, partner.Language)
	}
	prompt = strings.ReplaceAll(prompt, "#name#", partner.Name)
	prompt = strings.ReplaceAll(prompt, "#language#", partner.Language)

	if opts.Profile != "" {
		prompt += "\n\nLearner profile: " + opts.Profile
	}
	if opts.Topic != "" {
		prompt += "\n\nThe group is studying a shared lesson topic: " + opts.Topic +
			". Keep your answers scoped to this topic so every member sees a consistent lesson."
	}
	if opts.CorrectionsEnabled {
		prompt += "\n\nIf the learner's last message contains a mistake, start your reply with a single line 'Correction: <corrected sentence>' before your conversational response."
	}
	return prompt
}

// toChatMessages converts conversation history into the provider's message
// shape, trimming to the configured history limit.
func toChatMessages(systemPrompt string, history []models.Message) []openai.ChatCompletionMessage {
	limit := config.AppConfig.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Sender == models.SenderAI {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Text})
	}
	return messages
}

// splitCorrection extracts a leading "Correction:" line from a reply.
func splitCorrection(content string) (correction, rest string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, correctionPrefix) {
		return "", content, false
	}
	line, remainder, found := strings.Cut(trimmed, "\n")
	correction = strings.TrimSpace(strings.TrimPrefix(line, correctionPrefix))
	if !found {
		// The whole reply was a correction; keep it as the text too so the
		// turn is never empty.
		return correction, trimmed, correction != ""
	}
	return correction, strings.TrimSpace(remainder), correction != ""
}
