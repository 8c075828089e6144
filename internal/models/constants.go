package models

const (
	CollectionName   = "course_materials"
	ContextSeparator = "\n\n---\n\n"
	DefaultSession   = "default"
	ThinkTag         = `(?s)<think>.*?</think>`

	NoContextAnswer       = "I couldn't find relevant course materials to answer this question."
	GenerationErrorAnswer = "An error occurred while generating the answer."
	NoHistoryPlaceholder  = "(no previous conversation)"
)

var (
	// QueryPromptTemplate takes the conversation history, the context block and the question.
	QueryPromptTemplate = `You are a helpful academic assistant for EduMate.

Use the course materials below to answer the student's question. Prefer the course materials over general knowledge.
If the student asks a follow-up such as "tell me more" or "explain that again", use the previous conversation to work out what they are referring to.
If the information is not in the provided materials, say "I don't have this information in the course materials."

Previous Conversation:
%s

Course Materials:
%s

Student Question: %s

Answer:`
)
