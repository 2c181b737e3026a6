// Package protocol holds the wire constants shared between larkbridge and the
// workers that consume its queue file.
package protocol

// Queue file grammar. A block looks like:
//
//	---
//	message_id: om_xxx
//	chat_id: oc_xxx
//	**received 2026-01-02T15:04:05+08:00**
//	body text
//	**[RESOLVED]**
//
// The resolved marker is present only after a reply was delivered.
const (
	QueueSeparator      = "---"
	QueueKeyLabel       = "message_id: "
	QueueOriginLabel    = "chat_id: "
	QueueReceivedPrefix = "**received "
	QueueReceivedSuffix = "**"
	QueueResolvedMarker = "**[RESOLVED]**"

	// QueueEscape prefixes body lines that would otherwise be read as grammar.
	// Decoders strip exactly one leading escape.
	QueueEscape = `\`

	QueueHeader = "# Lark task queue\n\n" +
		"Blocks start with a `---` line and carry message_id, chat_id, a received header and the body.\n" +
		"Blocks ending in **[RESOLVED]** have been replied to. Body lines beginning with `\\` are escaped.\n\n"
)

// Worker environment passed to launched processes.
const (
	EnvQueueFile = "LARKBRIDGE_QUEUE_FILE"
	EnvTaskKey   = "LARKBRIDGE_TASK_KEY"
)
