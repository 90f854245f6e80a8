package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/taskforge/internal/scheduler"
)

// DefaultPlan stands in for an empty plan answer.
const DefaultPlan = "I will proceed with the standard procedure."

const reflectorSystem = `You are the Reflector agent, a requirements engineer.
Interview the user until the requirements document covers:
1. User story
2. System requirements
3. Functional requirements
4. Non-functional requirements (performance, security, and so on)

Rules:
- If the request is vague or ambiguous, ask one clarifying question.
- Every clarifying question comes with 3 to 5 distinct answer options.
- You may ask at most %d questions. The user has answered %d so far.
  Once that count reaches the limit, stop asking, fill the gaps with sensible
  assumptions and set "isComplete" to true.
- If the requirements are already solid, set "isComplete" to true right away.

Answer with JSON:
{
  "responseToUser": "conversational reply",
  "options": ["Option A", "Option B", "Option C"],
  "requirements": {
    "userStory": "...",
    "systemRequirements": ["..."],
    "functionalRequirements": ["..."],
    "nonFunctionalRequirements": ["..."],
    "isComplete": false
  }
}`

const orchestratorSystem = `You are the Orchestrator agent.
Break the finalized requirements down into high-level subtasks and assign each
one to a base agent:
- COLLECTOR: gathers data and research.
- CONTEXTUALIZER: maps, structures and clusters data.
- SYNTHESIZER: reasoning, coding, content creation, decision making.
- REFLECTOR: final polishing and refinement.

Define dependencies. If task B needs the output of task A, list A's id in B's
"dependencies". The graph must be acyclic.

Answer with a JSON array of objects with the fields "id", "title",
"description", "assignedTo", "dependencies" and "dynamicAgentName" (a specific
role name for the sub-agent, e.g. "Python Architect").`

const planCritiqueSystem = `You are the Critique agent.
Review the plan proposed by a dynamic agent. It must be efficient, safe and correct.
- Reject vague plans.
- Reject over-engineered plans when a simple solution exists.
- Reject plans that miss the core objective.
- Otherwise approve.

Answer with JSON: {"approved": boolean, "feedback": string}`

const resultCritiqueSystem = `You are the Critique agent.
Review the final output of a task and decide whether it meets the requirements.

Answer with JSON: {"approved": boolean, "feedback": string}`

func draftPrompt(req DraftRequest) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, msg := range req.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	current, _ := json.Marshal(req.Current)
	fmt.Fprintf(&b, "\nCurrent draft requirements:\n%s\n\n", current)
	fmt.Fprintf(&b, "Analyze the latest user input. Questions answered: %d of %d.", req.UserTurns, req.MaxTurns)
	if req.UserTurns >= req.MaxTurns {
		b.WriteString(" The limit is reached, set isComplete to true.")
	}
	return b.String()
}

func decomposePrompt(doc RequirementsDoc) string {
	data, _ := json.Marshal(doc)
	return fmt.Sprintf("Requirements:\n%s\n\nCreate a dependency graph of tasks.", data)
}

func personaSystem(p Persona) string {
	s := fmt.Sprintf("You are a dynamically created agent. Role: %s.\nParent type: %s.", p.Name, p.Role)
	if p.SystemPrompt != "" {
		s += "\n" + p.SystemPrompt
	}
	return s
}

func planSystem(p Persona) string {
	return personaSystem(p) + `

Create a detailed step-by-step execution plan for the assigned task.
If you received critique feedback, the new plan must address it.`
}

func planPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nDescription: %s\n\n", req.Task.Title, req.Task.Description)
	fmt.Fprintf(&b, "Context summary:\n%s\n\n", req.Knowledge)
	if req.Feedback != "" {
		fmt.Fprintf(&b, "The previous plan was rejected.\nCritique feedback: %s\n\nRewrite the plan to address it.\n", req.Feedback)
	} else {
		b.WriteString("Propose your initial plan.\n")
	}
	b.WriteString("Provide a step-by-step plan.")
	return b.String()
}

func executeSystem(p Persona, task *scheduler.Task) string {
	return personaSystem(p) + fmt.Sprintf(`
You have an approved plan. Execute it now.

Task: %s
Details: %s

Answer with JSON: {"result": "the actual output of the work", "logic": "how you got there"}`, task.Title, task.Description)
}

func executePrompt(req ExecuteRequest) string {
	return fmt.Sprintf("Approved plan:\n%s\n\nContext and knowledge base:\n%s\n\nExecute the plan.", req.Plan, req.Knowledge)
}

func planCritiquePrompt(task *scheduler.Task, plan string, p Persona) string {
	return fmt.Sprintf("Task: %s\nDescription: %s\nAgent role: %s\n\nProposed plan:\n%s", task.Title, task.Description, p.Name, plan)
}

func resultCritiquePrompt(task *scheduler.Task, result string) string {
	return fmt.Sprintf("Task: %s\nExpected: %s\nActual result: %s", task.Title, task.Description, result)
}
