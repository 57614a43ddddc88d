// Package hint generates short bullet-point hints from trigger-ready text
// chunks by streaming completions from the language model provider.
package hint

import (
	"fmt"

	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/session"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
)

const interviewSystemPrompt = `You are an interview assistant. The interviewer just asked a question.
Based on the question and context, provide 1-3 bullet points to help the candidate structure their answer.

Be concise. Each point should be 5-15 words.
Focus on: key points to mention, structure suggestion, relevant terms.

Do NOT repeat the question. Do NOT write full answers. Do NOT use numbering.
Output ONLY bullet points starting with "- ".

%s`

const meetingSystemPrompt = `You are a meeting assistant. Analyze what was just said and provide helpful context in 1-3 bullet points.

Be concise. Each point should be 5-15 words.
Focus on: term explanations, relevant context, follow-up suggestions.

Do NOT repeat what was said. Do NOT use numbering.
Output ONLY bullet points starting with "- ".

%s`

// buildSystemPrompt renders the per-mode system prompt with the optional
// knowledge context and custom instructions folded in.
func buildSystemPrompt(mode session.Mode, knowledgeContext, customPrompt string) string {
	if knowledgeContext != "" {
		knowledgeContext = fmt.Sprintf("\nRelevant knowledge:\n%s\n", knowledgeContext)
	}

	template := meetingSystemPrompt
	if mode == session.ModeInterview {
		template = interviewSystemPrompt
	}
	prompt := fmt.Sprintf(template, knowledgeContext)

	if customPrompt != "" {
		prompt += fmt.Sprintf("\n\nAdditional instructions: %s", customPrompt)
	}
	return prompt
}

// buildMessages assembles the chat exchange for one hint request.
func buildMessages(mode session.Mode, chunk *events.TextChunk, systemPrompt string) []llm.Message {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
	}

	if chunk.GlobalContext != "" {
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("Recent conversation:\n%s", chunk.GlobalContext),
		})
	}

	label := "Statement"
	if mode == session.ModeInterview {
		label = "Question"
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("%s: %s\n\nProvide 1-3 bullet points:", label, chunk.Text),
	})
	return messages
}
