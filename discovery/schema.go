package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// updateSchema describes the JSON form of an externally supplied Update.
// Unknown keys are rejected at every level so a typo cannot silently drop
// data. Fields only the workflow writes (milestones, the error log, the last
// node, the confirmation flags and verification scores) are not accepted.
const updateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "user_profile": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "user_id":   {"type": "string"},
        "name":      {"type": "string"},
        "email":     {"type": "string"},
        "address":   {"type": "string"},
        "state":     {"type": "string"},
        "level":     {"type": "string"},
        "major":     {"type": "string"},
        "gpa":       {"type": "number", "minimum": 0},
        "interests": {"type": "array", "items": {"type": "string"}}
      }
    },
    "financial_profile": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "sai":            {"type": "integer"},
        "household_size": {"type": "integer", "minimum": 0},
        "pell_eligible":  {"type": "boolean"},
        "first_gen":      {"type": "boolean"}
      }
    },
    "discovery_results": {"type": "array", "items": {"$ref": "#/definitions/result"}},
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["role", "content"],
        "properties": {
          "role":    {"type": "string", "enum": ["assistant", "user"]},
          "content": {"type": "string"},
          "node":    {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "result": {
      "type": "object",
      "additionalProperties": false,
      "required": ["id", "title"],
      "properties": {
        "id":           {"type": "string", "minLength": 1},
        "title":        {"type": "string"},
        "provider":     {"type": "string"},
        "url":          {"type": "string"},
        "amount":       {"type": "number"},
        "deadline":     {"type": "string", "format": "date-time"},
        "description":  {"type": "string"},
        "tags":         {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var updateSchemaLoader = gojsonschema.NewStringLoader(updateSchema)

// DecodeUpdate parses an externally supplied update. Documents with unknown
// fields or mistyped values are rejected with an error wrapping
// ErrInvalidUpdate before anything reaches the reducer.
func DecodeUpdate(data []byte) (Update, error) {
	result, err := gojsonschema.Validate(updateSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Update{}, fmt.Errorf("%w: %s", ErrInvalidUpdate, strings.Join(msgs, "; "))
	}

	var u Update
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return u, nil
}

// checkCallerInput rejects an update that sets fields only nodes may write.
// DecodeUpdate enforces the same rule for JSON documents.
func checkCallerInput(u Update) error {
	var owned []string
	if u.ActiveMilestones != nil {
		owned = append(owned, "active_milestones")
	}
	if u.ErrorLog != nil {
		owned = append(owned, "error_log")
	}
	if u.LastActiveNode != nil {
		owned = append(owned, "last_active_node")
	}
	if u.PendingConfirmation != nil {
		owned = append(owned, "pending_confirmation")
	}
	if u.SAIRangeApproved != nil {
		owned = append(owned, "sai_range_approved")
	}
	if u.DiscoveryResults != nil {
		for _, r := range *u.DiscoveryResults {
			if r.Verified || r.TrustScore != 0 || r.NeedMatch != 0 || r.TrustReport != "" {
				owned = append(owned, "discovery_results verification")
				break
			}
		}
	}
	if len(owned) > 0 {
		return fmt.Errorf("%w: %s set by the workflow", ErrInvalidUpdate, strings.Join(owned, ", "))
	}
	return nil
}
