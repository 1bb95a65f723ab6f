package answer

import "fmt"

// FallbackText is returned whenever the documents do not support an answer.
const FallbackText = "I couldn't find that information in your documents."

// SystemPrompt instructs the model to answer strictly from the supplied context.
const SystemPrompt = `You are a helpful AI assistant that answers questions based on provided documents.

IMPORTANT RULES:
1. Answer questions ONLY using information from the provided context/documents
2. If the answer is not in the documents, respond with: "` + FallbackText + `"
3. Always cite which source document you're using when answering
4. Be concise and accurate
5. If you're not completely sure, acknowledge the uncertainty
6. Do not make up information or use external knowledge

When you find relevant information, format your answer clearly and mention the source.`

// UserMessage wraps the retrieved context and the question.
func UserMessage(context, question string) string {
	return fmt.Sprintf("Context from documents:\n%s\n\nQuestion: %s\n\nPlease answer based on the context above.", context, question)
}
