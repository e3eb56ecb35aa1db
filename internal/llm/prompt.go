package llm

// BuildMessages assembles the system prompt, prior turns and the new user turn.
// System messages in history are dropped so only one system prompt is sent.
func BuildMessages(systemPrompt string, history []Message, userTurn string) []Message {
	messages := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, msg := range history {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			continue
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return append(messages, Message{Role: RoleUser, Content: userTurn})
}
