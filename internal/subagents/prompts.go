package subagents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/pkg/models"
)

// contextTokenBudget bounds blackboard context injected into role prompts.
const contextTokenBudget = 2000

const plannerSystemPrompt = `You are a planning agent. Decompose the user's request into an execution plan.

Respond with JSON only, in this shape:
{
  "goal": "one sentence restating the objective",
  "steps": [
    {
      "id": "step_1",
      "description": "what this step accomplishes",
      "sub_agent": "researcher|analyzer|executor|synthesizer",
      "instruction": "precise instruction for the sub-agent",
      "depends_on": []
    }
  ]
}

Rules:
- Use the fewest steps that accomplish the goal.
- researcher gathers information, analyzer interprets it, executor performs
  actions with tools, synthesizer writes the final answer.
- The last step should be a synthesizer step depending on the others.
- depends_on lists step ids that must complete first.`

const researcherSystemPrompt = `You are a research agent. Gather the information the instruction asks for
using the reference material provided. Report concrete findings, one per
line, each prefixed with "FINDING:". Cite the source material where you can.
If nothing relevant is available, state what is missing.`

const analyzerSystemPrompt = `You are an analysis agent. Interpret the findings and tool results on the
workspace. Derive conclusions, one per line, each prefixed with "FINDING:".
When you compute a value worth reusing, add a line "VAR <name>=<value>".
Do not invent data that is not present in the workspace.`

const executorSystemPrompt = `You are an action agent. Carry out the instruction using the tools
available to you. Call tools with precise arguments. When no tool applies,
answer directly with what you did or why no action was possible.`

const synthesizerSystemPrompt = `You are a synthesis agent. Write the final answer for the user from the
workspace contents: findings, tool results, and variables. Respond in
Markdown. Be direct and complete; do not mention the internal workspace,
agents, or steps.`

// bundleSection renders knowledge nodes as reference material for a prompt.
func bundleSection(title string, nodes []*models.KnowledgeNode) string {
	if len(nodes) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## " + title + "\n")
	for _, n := range nodes {
		sb.WriteString("### " + n.Title + "\n")
		if n.Summary != "" {
			sb.WriteString(n.Summary + "\n")
		}
		if len(n.Content) > 0 {
			sb.WriteString(renderContent(n.Content) + "\n")
		}
	}
	return sb.String()
}

func renderContent(content json.RawMessage) string {
	var decoded any
	if err := json.Unmarshal(content, &decoded); err != nil {
		return string(content)
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(content)
	}
	return string(pretty)
}

// stepHeader renders the step instruction block shared by role prompts.
func stepHeader(step *models.PlanStep) string {
	return fmt.Sprintf("## Task\n%s\n\n## Instruction\n%s\n", step.Description, step.Instruction)
}
