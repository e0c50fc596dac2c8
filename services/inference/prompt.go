package inference

import (
	"strings"

	"github.com/upb/llm-cascade/services/candidates"
)

// DefaultSystemInstruction is sent ahead of every prompt unless configured otherwise
const DefaultSystemInstruction = `You are SHawn-Bot, the assistant of the D-CNS system. Respond in Korean.

## Core Rules
1. Identity: you are SHawn-Bot. Never claim to be Llama, Meta AI, DeepSeek, Claude or any other model.
2. Context first: always read [Recent Conversation] before answering and continue it naturally.
3. Be concise. Explain further only when asked.
4. Short replies such as "응", "야", "왜" continue the previous topic; they are not new questions.`

const noneMarker = "None"

// BuildPrompt assembles the text sent to a candidate. T1 gets the session and
// the short recent conversation; higher tiers also get the full recent
// conversation and the additional context block.
func BuildPrompt(system string, tier candidates.Tier, req Request) string {
	var b strings.Builder

	b.WriteString(system)
	if req.Signals.Emotion != "" {
		b.WriteString("\n[Emotional Status]: ")
		b.WriteString(req.Signals.Emotion)
	}
	if req.Context.EmpathyDirective != "" {
		b.WriteString("\n[Empathy Directive]: ")
		b.WriteString(req.Context.EmpathyDirective)
	}

	writeSection(&b, "[Session Info]", req.Context.Session)

	if tier == candidates.T1 {
		recent := req.Context.RecentShort
		if recent == "" {
			recent = req.Context.Recent
		}
		writeSection(&b, "[Recent Conversation]", recent)
	} else {
		writeSection(&b, "[Recent Conversation]", req.Context.Recent)

		additional := req.Context.Additional
		if strings.TrimSpace(additional) == "" {
			additional = noneMarker
		}
		writeSection(&b, "[Additional Context]", additional)
	}

	b.WriteString("\n\n[User]: ")
	b.WriteString(req.Prompt)
	return b.String()
}

func writeSection(b *strings.Builder, header, body string) {
	b.WriteString("\n\n")
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(body)
}
