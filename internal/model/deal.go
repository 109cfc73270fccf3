package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Deal is a CRM deal record. The schema varies by tenant customization, so it
// is kept as the decoded JSON object. Decode with json.Number enabled so
// 19-digit record ids survive.
type Deal map[string]any

// ID returns the CRM record id.
func (d Deal) ID() string {
	return Text(d["id"])
}

// Name returns the deal display name.
func (d Deal) Name() string {
	return Text(d["Deal_Name"])
}

// Stage returns the lifecycle stage.
func (d Deal) Stage() string {
	return Text(d["Stage"])
}

// ModifiedTime returns the raw modification timestamp.
func (d Deal) ModifiedTime() string {
	return Text(d["Modified_Time"])
}

// ContactName returns the display name of the linked contact lookup.
func (d Deal) ContactName() string {
	switch v := d["Contact_Name"].(type) {
	case map[string]any:
		return Text(v["name"])
	case string:
		return v
	}
	return ""
}

// Text renders scalar JSON values as a trimmed string. Objects and arrays
// render as "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}
