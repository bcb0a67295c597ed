package processors

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoInsight/core"
	"videoInsight/storage"
)

// Completer is the language-generation capability.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, temperature float32, maxTokens int) (string, error)
}

// OpenAICompleter runs prompts through the chat completion endpoint.
type OpenAICompleter struct {
	cli *openai.Client
}

func NewOpenAICompleter(cli *openai.Client) *OpenAICompleter {
	return &OpenAICompleter{cli: cli}
}

func (c *OpenAICompleter) Complete(ctx context.Context, model, prompt string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("completion API failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const (
	relevanceThreshold = 0.7
	maxContextTokens   = 3000
)

// estimateTokens is the conservative 1 token ≈ 4 chars estimate used for
// every context budget in the pipeline.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Answerer answers questions from a content's indexed chunks, keeping the
// evidence context inside the completion model's token budget.
type Answerer struct {
	Completer Completer
}

const answerPromptTemplate = `You are a helpful assistant that can answer questions about videos based on the video's transcript.

Answer the following question: %s
By searching the following video transcript: %s

Only use the factual information from the transcript to answer the question.
If you feel like you don't have enough information to answer the question, say "I don't know".
Your answers should be detailed but concise.`

// Answer retrieves 2k candidates, filters by relevance, reduces the
// context to the token budget, and completes. The returned hits are the
// evidence actually sent to the model, for citation display.
func (a *Answerer) Answer(ctx context.Context, store storage.VectorStore, question string, k int, model string) (string, []core.Hit, error) {
	if k <= 0 {
		k = 4
	}

	candidates, err := store.Search(ctx, question, k*2)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve evidence: %w", err)
	}
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("no indexed content to answer from")
	}

	// Keep candidates above the relevance threshold; if too few survive,
	// fall back to the unfiltered top k so evidence is never empty.
	relevant := make([]core.Hit, 0, len(candidates))
	for _, hit := range candidates {
		if hit.Score > relevanceThreshold {
			relevant = append(relevant, hit)
		}
	}
	if len(relevant) < k {
		relevant = candidates
	}
	if len(relevant) > k {
		relevant = relevant[:k]
	}

	evidence := reduceToBudget(relevant)
	contextText := joinHitContents(evidence)

	temperature, maxTokens := modelSettings(model)
	prompt := fmt.Sprintf(answerPromptTemplate, question, contextText)

	answer, err := a.Completer.Complete(ctx, model, prompt, temperature, maxTokens)
	if err != nil {
		return "", evidence, err
	}
	return answer, evidence, nil
}

// reduceToBudget shrinks the evidence set until its estimated token cost
// fits maxContextTokens: first cut to the 2 most relevant hits, then
// truncate each hit proportionally, keeping at least 20% of each.
func reduceToBudget(hits []core.Hit) []core.Hit {
	contextText := joinHitContents(hits)
	if estimateTokens(contextText) <= maxContextTokens {
		return hits
	}

	if len(hits) > 2 {
		hits = hits[:2]
		contextText = joinHitContents(hits)
	}
	if estimateTokens(contextText) <= maxContextTokens {
		return hits
	}

	targetChars := maxContextTokens * 4
	totalChars := len(contextText)
	ratio := float64(targetChars) / float64(totalChars)

	truncated := make([]core.Hit, len(hits))
	for i, hit := range hits {
		contentLen := len(hit.Chunk.Content)
		keep := int(float64(contentLen) * ratio)
		if floor := contentLen / 5; keep < floor {
			keep = floor
		}
		if keep > contentLen {
			keep = contentLen
		}
		hit.Chunk.Content = hit.Chunk.Content[:keep]
		truncated[i] = hit
	}

	// Extreme fallback: small excerpts only.
	if estimateTokens(joinHitContents(truncated)) > maxContextTokens {
		for i, hit := range truncated {
			if len(hit.Chunk.Content) > 300 {
				hit.Chunk.Content = hit.Chunk.Content[:300]
			}
			truncated[i] = hit
		}
	}
	return truncated
}

func joinHitContents(hits []core.Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Chunk.Content
	}
	return strings.Join(parts, " ")
}

func modelSettings(model string) (float32, int) {
	if strings.Contains(model, "gpt-4") {
		return 0.1, 750
	}
	return 0, 500
}

const simpleAnswerPromptTemplate = `Answer this question briefly: %s
Based on these transcript excerpts: %s
Keep your answer concise and factual.`

// SimpleAnswer is the degraded variant used after a completion failure:
// minimal retrieval, keyword-overlap windowing over raw chunk text, and a
// short completion budget. A distinct algorithm, not a retry.
func (a *Answerer) SimpleAnswer(ctx context.Context, store storage.VectorStore, question, model string) (string, []core.Hit, error) {
	hits, err := store.Search(ctx, question, 2)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve evidence: %w", err)
	}
	if len(hits) == 0 {
		return "", nil, fmt.Errorf("no indexed content to answer from")
	}

	queryTerms := strings.Fields(strings.ToLower(question))
	evidence := make([]core.Hit, 0, len(hits))
	snippets := make([]string, 0, len(hits))
	for _, hit := range hits {
		excerpt := bestExcerpt(hit.Chunk.Content, queryTerms)
		snippets = append(snippets, excerpt)
		hit.Chunk.Content = excerpt
		evidence = append(evidence, hit)
	}

	prompt := fmt.Sprintf(simpleAnswerPromptTemplate, question, strings.Join(snippets, " "))
	answer, err := a.Completer.Complete(ctx, model, prompt, 0, 300)
	if err != nil {
		return "", evidence, err
	}
	return answer, evidence, nil
}

// bestExcerpt slides a 300-char window over the content and keeps the
// region with the most query-term matches, trimmed to 250 chars.
func bestExcerpt(content string, queryTerms []string) string {
	lower := strings.ToLower(content)

	bestPos := 0
	maxMatches := 0
	for i := 0; i < len(lower); i += 50 {
		end := i + 300
		if end > len(lower) {
			end = len(lower)
		}
		window := lower[i:end]
		matches := 0
		for _, term := range queryTerms {
			if strings.Contains(window, term) {
				matches++
			}
		}
		if matches > maxMatches {
			maxMatches = matches
			bestPos = i
		}
	}

	start := bestPos - 50
	if start < 0 {
		start = 0
	}
	end := start + 250
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
