package llm

import (
	"encoding/json"
	"strings"
)

// CleanJSONResponse removes common formatting from LLM JSON responses:
// markdown code fences, outer XML-style tags, and surrounding whitespace.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	response = stripOuterXMLTags(response)

	return strings.TrimSpace(response)
}

// stripOuterXMLTags removes the outermost XML-style tag pair, if any.
// "<tag>content</tag>" becomes "content"; attributes are tolerated.
func stripOuterXMLTags(content string) string {
	openStart := strings.Index(content, "<")
	if openStart == -1 {
		return content
	}

	openEnd := strings.Index(content[openStart:], ">")
	if openEnd == -1 {
		return content
	}
	openEnd += openStart + 1

	tagName := content[openStart+1 : openEnd-1]
	if spaceIdx := strings.Index(tagName, " "); spaceIdx != -1 {
		tagName = tagName[:spaceIdx]
	}

	closeStart := strings.Index(content, "</"+tagName+">")
	if closeStart == -1 || closeStart <= openEnd {
		return content
	}

	return content[openEnd:closeStart]
}

// ExtractJSONArray parses a JSON array from model output. It first tries the
// cleaned response directly, then falls back to the outermost bracket pair.
func ExtractJSONArray[T any](response string) ([]T, error) {
	trimmed := strings.TrimSpace(response)

	var result []T
	if err := json.Unmarshal([]byte(CleanJSONResponse(trimmed)), &result); err == nil {
		return result, nil
	}

	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &result); err == nil {
			return result, nil
		}
	}

	return nil, &JSONParseError{Response: response, Message: "could not parse JSON array"}
}

// JSONParseError reports an unparseable LLM JSON response.
type JSONParseError struct {
	Response string
	Message  string
}

func (e *JSONParseError) Error() string {
	return e.Message + ": " + truncateForError(e.Response, 200)
}

func truncateForError(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
