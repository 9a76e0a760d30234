package models

const (
	SourcesMarker = "SOURCES:"
	ChunkIDFormat = "%d-%d"
	SourceFormat  = "%s-page-%d"
)

// User-facing guidance shown when a submit cannot proceed.
const (
	MsgConfigureAPIKey = "Please configure your OpenAI API key!"
	MsgUploadDocument  = "Please upload a document!"
	MsgEnterQuestion   = "Please enter a question!"
)

var (
	// DocumentPromptTemplate renders one retrieved chunk inside the QA prompt.
	DocumentPromptTemplate = "Content: %s\nSource: %s"

	// QAPromptTemplate is a Go text/template consumed by langchaingo prompts.
	QAPromptTemplate = `Given the following extracted parts of a long document and a question, create a final answer with references ("SOURCES").
If you don't know the answer, just say that you don't know. Don't try to make up an answer.
ALWAYS return a "SOURCES" part in your answer, on its own last line, listing the Source labels you used separated by commas.

QUESTION: Which state/country's law governs the interpretation of the contract?
=========
Content: This Agreement is governed by English law and the parties submit to the exclusive jurisdiction of the English courts in relation to any dispute (contractual or non-contractual) concerning this Agreement.
Source: contract.pdf-page-28
Content: The Agreement shall terminate if either party commits a material breach.
Source: contract.pdf-page-30
=========
FINAL ANSWER: This Agreement is governed by English law.
SOURCES: contract.pdf-page-28

QUESTION: {{.question}}
=========
{{.summaries}}
=========
FINAL ANSWER:`
)
