package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaymesh/switchboard/internal/channels"
)

// sendMessageSchema is the JSON Schema advertised to the model. spec.md
// §4.9's cron delivery contract requires a turn to be able to name an
// explicit destination channel/recipient rather than only replying on the
// session that spawned it (a cron session has no channel presence of its
// own).
const sendMessageSchema = `{
  "type": "object",
  "properties": {
    "channel": {"type": "string", "description": "Destination channel type (telegram, discord, slack, interactive)"},
    "to": {"type": "string", "description": "Destination identifier within that channel (chat id, channel id, etc.)"},
    "text": {"type": "string", "description": "Message text to deliver"}
  },
  "required": ["channel", "to", "text"]
}`

type sendMessageInput struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

// SendMessageTool delivers text to an explicit (channel, to) destination,
// independent of the calling session. Grounded on spec.md §6's "send-tool"
// named in the cron delivery contract and on the teacher's per-channel
// send-tool shape, generalized here into one tool parameterized by channel
// instead of one tool per transport.
type SendMessageTool struct {
	gw *Gateway
}

// NewSendMessageTool builds the tool bound to gw's channel registry.
func NewSendMessageTool(gw *Gateway) *SendMessageTool {
	return &SendMessageTool{gw: gw}
}

func (t *SendMessageTool) Name() string           { return "send_message" }
func (t *SendMessageTool) Description() string    { return "Deliver a message to an explicit channel and recipient, independent of the calling session." }
func (t *SendMessageTool) Schema() json.RawMessage { return json.RawMessage(sendMessageSchema) }
func (t *SendMessageTool) SubagentSafe() bool      { return true }

func (t *SendMessageTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in sendMessageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("send_message: parse input: %w", err)
	}
	if in.Channel == "" || in.To == "" {
		return "", fmt.Errorf("send_message: channel and to are required")
	}

	a, ok := t.gw.channels.Get(in.Channel)
	if !ok {
		return "", fmt.Errorf("send_message: no adapter registered for channel %q", in.Channel)
	}
	if err := a.Send(ctx, channels.OutgoingMessage{To: in.To, Content: in.Text}); err != nil {
		return "", fmt.Errorf("send_message: %w", err)
	}
	return "message delivered", nil
}
