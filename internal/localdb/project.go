package localdb

import (
	"database/sql"
	"encoding/json"
	"time"
)

// localBlockTypes maps the desktop app's block type vocabulary to the
// public API's. Types without a mapping pass through unchanged.
var localBlockTypes = map[string]string{
	"text":           "paragraph",
	"header":         "heading_1",
	"sub_header":     "heading_2",
	"sub_sub_header": "heading_3",
	"bulleted_list":  "bulleted_list_item",
	"numbered_list":  "numbered_list_item",
	"page":           "child_page",
}

func apiBlockType(local string) string {
	if mapped, ok := localBlockTypes[local]; ok {
		return mapped
	}
	return local
}

// isoTime renders a Unix-millisecond timestamp the way the public API does.
func isoTime(millis int64) string {
	return time.UnixMilli(millis).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func isAlive(alive sql.NullInt64) bool {
	return alive.Valid && alive.Int64 == 1
}

// projectPage shapes a page row into the public API's page object. Returns
// nil when the stored properties do not validate.
func projectPage(row *blockRow) map[string]interface{} {
	props, ok := parseProperties(row.Properties)
	if !ok {
		return nil
	}
	if title, present := props["title"]; present {
		if _, isArray := title.([]interface{}); !isArray {
			return nil
		}
	}

	out := map[string]interface{}{
		"object":           "page",
		"id":               row.ID,
		"created_time":     isoTime(row.CreatedTime.Int64),
		"last_edited_time": isoTime(row.LastEditedTime.Int64),
		"archived":         !isAlive(row.Alive),
		"in_trash":         !isAlive(row.Alive),
		"url":              "https://www.notion.so/" + CompactID(row.ID),
	}

	if row.ParentTable.Valid && row.ParentTable.String != "" && row.ParentID.Valid && row.ParentID.String != "" {
		parentType := row.ParentTable.String + "_id"
		out["parent"] = map[string]interface{}{
			"type":     parentType,
			parentType: row.ParentID.String,
		}
	}

	projected := make(map[string]interface{}, len(props)+1)
	for name, value := range props {
		text := plainText(value)
		if name == "title" {
			projected["title"] = map[string]interface{}{
				"id":    "title",
				"type":  "title",
				"title": richText(text),
			}
			continue
		}
		projected[name] = map[string]interface{}{
			"id":        name,
			"type":      "rich_text",
			"rich_text": richText(text),
		}
	}
	if _, present := projected["title"]; !present {
		projected["title"] = map[string]interface{}{
			"id":    "title",
			"type":  "title",
			"title": richText(""),
		}
	}
	out["properties"] = projected

	return out
}

// projectBlock shapes a block row into the public API's block object.
// Returns nil when the row does not validate.
func projectBlock(row *blockRow) map[string]interface{} {
	if !row.Type.Valid || row.Type.String == "" {
		return nil
	}
	props, ok := parseProperties(row.Properties)
	if !ok {
		return nil
	}
	content, ok := parseContentArray(row.Content)
	if !ok {
		return nil
	}

	blockType := apiBlockType(row.Type.String)
	text := plainText(props["title"])

	var payload map[string]interface{}
	switch blockType {
	case "child_page":
		payload = map[string]interface{}{"title": text}
	case "divider":
		payload = map[string]interface{}{}
	case "to_do":
		payload = map[string]interface{}{
			"rich_text": richText(text),
			"checked":   false,
			"color":     "default",
		}
	default:
		payload = map[string]interface{}{
			"rich_text": richText(text),
			"color":     "default",
		}
	}

	return map[string]interface{}{
		"object":           "block",
		"id":               row.ID,
		"type":             blockType,
		"created_time":     isoTime(row.CreatedTime.Int64),
		"last_edited_time": isoTime(row.LastEditedTime.Int64),
		"has_children":     len(content) > 0,
		"archived":         !isAlive(row.Alive),
		"in_trash":         !isAlive(row.Alive),
		blockType:          payload,
	}
}

// parseProperties decodes the properties column, which must be a JSON
// object. An empty column is invalid; the desktop app stores at least {}.
func parseProperties(properties sql.NullString) (map[string]interface{}, bool) {
	if !properties.Valid || properties.String == "" {
		return nil, false
	}
	var props map[string]interface{}
	if err := json.Unmarshal([]byte(properties.String), &props); err != nil {
		return nil, false
	}
	return props, true
}

func parseContentArray(content sql.NullString) ([]interface{}, bool) {
	if !content.Valid || content.String == "" {
		// Leaf blocks commonly have no content column at all.
		return []interface{}{}, true
	}
	var items []interface{}
	if err := json.Unmarshal([]byte(content.String), &items); err != nil {
		return nil, false
	}
	return items, true
}

// plainText flattens the desktop app's segment encoding. A property value
// arrives as [["text", [annotations…]], …]; annotations are discarded.
func plainText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []interface{}:
		var out string
		for _, segment := range v {
			switch seg := segment.(type) {
			case string:
				out += seg
			case []interface{}:
				if len(seg) > 0 {
					if text, ok := seg[0].(string); ok {
						out += text
					}
				}
			}
		}
		return out
	default:
		return ""
	}
}

// richText builds the minimal rich text array the public API would return
// for plain content: one unstyled text node, or empty for empty text.
func richText(text string) []interface{} {
	if text == "" {
		return []interface{}{}
	}
	return []interface{}{
		map[string]interface{}{
			"type": "text",
			"text": map[string]interface{}{
				"content": text,
				"link":    nil,
			},
			"annotations": map[string]interface{}{
				"bold":          false,
				"italic":        false,
				"strikethrough": false,
				"underline":     false,
				"code":          false,
				"color":         "default",
			},
			"plain_text": text,
			"href":       nil,
		},
	}
}
