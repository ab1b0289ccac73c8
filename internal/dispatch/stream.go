package dispatch

import "encoding/json"

// streamLine is one decoded line of Claude's stream-json output.
type streamLine struct {
	events  []Event
	message *Message
	result  *resultLine
}

type resultLine struct {
	text         string
	isError      bool
	subtype      string
	sessionID    string
	costUSD      float64
	inputTokens  int64
	outputTokens int64
}

// parseStreamLine converts a JSON line to events. Stream-json format:
//   - {"type":"system","subtype":"init","session_id":"uuid",...} - session start
//   - {"type":"assistant","message":{"content":[...]},"session_id":"uuid"} - text and tool uses
//   - {"type":"user","message":{"content":[...]}} - tool results
//   - {"type":"result","subtype":"success","result":"...","total_cost_usd":0.01,...} - completion
func parseStreamLine(line string) streamLine {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return streamLine{}
	}

	eventType, _ := raw["type"].(string)
	switch eventType {
	case "system":
		subtype, _ := raw["subtype"].(string)
		if subtype == "init" {
			sessionID, _ := raw["session_id"].(string)
			return streamLine{events: []Event{{Type: EventInit, SessionID: sessionID}}}
		}
	case "assistant":
		return parseAssistantMessage(raw)
	case "user":
		return parseUserMessage(raw)
	case "result":
		return parseResultEvent(raw)
	}
	return streamLine{}
}

func contentBlocks(raw map[string]interface{}) []map[string]interface{} {
	message, ok := raw["message"].(map[string]interface{})
	if !ok {
		return nil
	}
	content, ok := message["content"].([]interface{})
	if !ok {
		return nil
	}
	blocks := make([]map[string]interface{}, 0, len(content))
	for _, c := range content {
		if block, ok := c.(map[string]interface{}); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// parseAssistantMessage extracts text and tool uses from a complete message.
func parseAssistantMessage(raw map[string]interface{}) streamLine {
	sessionID, _ := raw["session_id"].(string)

	var out streamLine
	var text string
	for _, block := range contentBlocks(raw) {
		switch blockType, _ := block["type"].(string); blockType {
		case "text":
			t, _ := block["text"].(string)
			text += t
		case "tool_use":
			name, _ := block["name"].(string)
			input, _ := block["input"].(map[string]interface{})
			out.events = append(out.events, Event{
				Type:       EventToolUse,
				ToolName:   name,
				ToolTarget: extractToolTarget(name, input),
				SessionID:  sessionID,
			})
		}
	}
	if text != "" {
		out.message = &Message{Role: "assistant", Text: text}
		out.events = append([]Event{{Type: EventText, Text: text, SessionID: sessionID}}, out.events...)
	}
	return out
}

// parseUserMessage extracts tool results.
func parseUserMessage(raw map[string]interface{}) streamLine {
	var out streamLine
	for _, block := range contentBlocks(raw) {
		if blockType, _ := block["type"].(string); blockType == "tool_result" {
			out.events = append(out.events, Event{Type: EventToolResult})
		}
	}
	return out
}

// parseResultEvent handles the final result event with usage and cost.
func parseResultEvent(raw map[string]interface{}) streamLine {
	r := &resultLine{}
	r.isError, _ = raw["is_error"].(bool)
	r.subtype, _ = raw["subtype"].(string)
	r.text, _ = raw["result"].(string)
	r.sessionID, _ = raw["session_id"].(string)
	r.costUSD, _ = raw["total_cost_usd"].(float64)

	if usage, ok := raw["usage"].(map[string]interface{}); ok {
		if v, ok := usage["input_tokens"].(float64); ok {
			r.inputTokens = int64(v)
		}
		if v, ok := usage["output_tokens"].(float64); ok {
			r.outputTokens = int64(v)
		}
	}

	eventType := EventDone
	if r.isError {
		eventType = EventError
	}
	return streamLine{
		events: []Event{{Type: eventType, Text: r.text, SessionID: r.sessionID}},
		result: r,
	}
}

// stopReason maps a result line to a stop reason.
func (r *resultLine) stopReason() StopReason {
	switch {
	case r.subtype == "error_max_turns":
		return StopMaxTurns
	case r.isError || (r.subtype != "" && r.subtype != "success"):
		return StopError
	default:
		return StopCompleted
	}
}

// extractToolTarget gets the relevant target from tool input.
func extractToolTarget(toolName string, input map[string]interface{}) string {
	switch toolName {
	case "Read", "Write", "Edit", "MultiEdit":
		if path, ok := input["file_path"].(string); ok {
			return path
		}
	case "Glob", "Grep":
		if pattern, ok := input["pattern"].(string); ok {
			return pattern
		}
	case "Task":
		if desc, ok := input["description"].(string); ok {
			return desc
		}
	case "Bash":
		if command, ok := input["command"].(string); ok {
			return command
		}
	}
	return ""
}
