package protocol

// Lark event types delivered over the long connection.
const (
	EventMessageReceive = "im.message.receive_v1"
	EventMessageRead    = "im.message.message_read_v1"
	EventBotEntered     = "im.chat.access_event.bot_p2p_chat_entered_v1"
)

// Lark message types.
const (
	MessageTypeText  = "text"
	MessageTypePost  = "post"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// PlaceholderNonText is the body recorded when a message carries no usable text.
const PlaceholderNonText = "[non-text message]"
