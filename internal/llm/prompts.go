package llm

import (
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/pkg/types"
)

// buildClassifyPrompt renders the remember/skip question for a turn.
func buildClassifyPrompt(req ClassifyRequest) string {
	var b strings.Builder

	b.WriteString("You are the memory gate of a chat assistant. Decide whether the latest exchange contains information worth remembering about the user: facts, preferences, relationships, goals, problems, decisions, or concrete details likely to matter in later conversations.\n\n")

	if req.ConversationSummary != "" {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n\n", req.ConversationSummary)
	}
	fmt.Fprintf(&b, "User message:\n%s\n\n", req.UserMessage)
	if req.AssistantMessage != "" {
		fmt.Fprintf(&b, "Assistant reply:\n%s\n\n", req.AssistantMessage)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "The conversation language is %s; judge content in that language.\n\n", req.Language)
	}

	b.WriteString("Respond with JSON only, no other text:\n")
	b.WriteString(`{"remember": true or false, "reason": "one short sentence"}`)
	return b.String()
}

// factTypeList is the closed fact-type vocabulary rendered into prompts.
var factTypeList = func() string {
	names := make([]string, len(types.ValidFactTypes))
	for i, ft := range types.ValidFactTypes {
		names[i] = string(ft)
	}
	return strings.Join(names, ", ")
}()

// buildExtractPrompt renders the structured-extraction instruction for a
// message window.
func buildExtractPrompt(req ExtractRequest) string {
	var b strings.Builder

	b.WriteString("Extract durable facts about the user from this conversation excerpt. Return only facts stated or strongly implied; never invent.\n\n")

	b.WriteString("Conversation:\n")
	for _, msg := range req.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	b.WriteString("\n")

	if req.Language != "" {
		fmt.Fprintf(&b, "The conversation is in %s. Write fact content in that language.\n\n", req.Language)
	}

	if len(req.KnownContents) > 0 {
		b.WriteString("Already stored (do not repeat):\n")
		for _, known := range req.KnownContents {
			fmt.Fprintf(&b, "- %s\n", known)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Allowed fact_type values: %s.\n", factTypeList)
	b.WriteString("Allowed temporality values: permanent, temporary, seasonal, unknown.\n\n")

	b.WriteString("Respond with JSON only, no other text:\n")
	b.WriteString(`{
  "memories": [
    {
      "fact_type": "...",
      "content": "one self-contained fact",
      "subject": "who or what it is about",
      "importance": 1-10,
      "confidence": 0.0-1.0,
      "temporality": "...",
      "entities": ["..."],
      "related_topics": ["..."],
      "source_context": "short quote"
    }
  ],
  "conversation_summary": "one or two sentences",
  "user_intent": "what the user is trying to do",
  "emotional_tone": "neutral/frustrated/excited/..."
}`)
	return b.String()
}
