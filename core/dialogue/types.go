package dialogue

// TurnRequest is the body of a completion request for a single user
// utterance.
type TurnRequest struct {
	UserInput string `json:"user_input"`
	// PhoneNumber is the destination number of the active call, nil when the
	// conversation is not a call or the number is unknown.
	PhoneNumber    *string `json:"phone_number"`
	ConversationID string  `json:"conversation_id"`
}

// TurnResponse is the backend reply to a TurnRequest.
type TurnResponse struct {
	// BotResponse is plain text or synthesis markup, depending on how the
	// backend agent is configured.
	BotResponse     string `json:"bot_response" jsonschema:"required,description=Reply text or SSML document"`
	EndConversation bool   `json:"end_conversation" jsonschema:"description=True if the conversation should end after this turn,default=false"`
	ConversationID  string `json:"conversation_id" jsonschema:"required,description=Identifier of the conversation the reply belongs to"`
}
