package agent

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// guideTemplate is the instruction sent with every query. {tickets} is
// replaced by the formatted case blocks, or by rag.NoMatchesContext when
// nothing was retrieved.
const guideTemplate = `You are an IT support assistant.
You have the following similar tickets:

{tickets}

Your job:
- Summarize the likely issue in one paragraph.
- Suggest clear, actionable troubleshooting steps.
- Prioritize the steps.
- Include escalation guidance if needed.
- Write in plain language, do not repeat contributor actions verbatim.

Output a complete troubleshooting guide.`

// newTemplate builds the single-message chat template around guideTemplate.
func newTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString, schema.UserMessage(guideTemplate))
}
