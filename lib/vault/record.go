package vault

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// recordSchema is the strict form of a message content
const recordSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "data"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"data": {"not": {"type": "null"}}
	}
}`

const recordSchemaURL = "https://ghostmesh.dev/schemas/record.json"

var compiledRecordSchema = mustCompileRecordSchema()

func mustCompileRecordSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchema))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(recordSchemaURL, doc); err != nil {
		panic(err)
	}
	return c.MustCompile(recordSchemaURL)
}

var (
	lenientType        = regexp.MustCompile(`"?type"?\s*:\s*"([^"]+)"`)
	lenientQuotedData  = regexp.MustCompile(`"?data"?\s*:\s*"([^"]+)"`)
	lenientNumericData = regexp.MustCompile(`"?data"?\s*:\s*(-?[0-9.]+)`)
)

// Message is a message as handed over by a producer. Content carries the record
// as JSON text, e.g. {"type":"Weather","data":"40"}.
type Message struct {
	Content   string `json:"content"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	UUID      string `json:"uuid,omitempty"`
}

// Record returns the validated record of the message
func (m Message) Record() (Record, error) {
	rec, err := ParseContent(m.Content)
	if err != nil {
		return Record{}, err
	}
	rec.From = m.From
	rec.Timestamp = m.Timestamp
	rec.UUID = m.UUID
	return rec, nil
}

// Record is a single typed value to store. Data is the sensitive field and is
// stored encrypted, everything else is plaintext metadata.
type Record struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	From      string `json:"from,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	UUID      string `json:"uuid,omitempty"`
}

// Validate checks the required fields
func (r Record) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return store.NewError(store.RetCValidation, `record must have a "type"`)
	}
	if r.Data == nil {
		return store.NewError(store.RetCValidation, `record must have a "data" field`)
	}
	return nil
}

// DataString returns the value that is encrypted: strings as is, anything else as JSON
func (r Record) DataString() (string, error) {
	if s, ok := r.Data.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return "", store.Errorf(store.RetCValidation, "data is not serializable: %s", err)
	}
	return string(b), nil
}

// ParseContent reads a record from message content. Valid JSON is checked against the
// record schema. Content that fails the strict check is passed to a lenient parser
// which accepts near-JSON such as { type: "Weather" data: 40 }, logging a warning.
func ParseContent(content string) (Record, error) {
	rec, strictErr := parseStrict(content)
	if strictErr == nil {
		return rec, nil
	}

	rec, ok := parseLenient(content)
	if !ok {
		return Record{}, store.Errorf(store.RetCValidation,
			`content must be valid JSON like {"type":"Weather","data":"40"}: %s`, strictErr)
	}
	Logger.Warningf("received malformed record content, recovered type %q with the lenient parser (%v)", rec.Type, strictErr)
	return rec, nil
}

func parseStrict(content string) (Record, error) {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return Record{}, err
	}
	if err := compiledRecordSchema.Validate(inst); err != nil {
		return Record{}, err
	}
	m := inst.(map[string]any)
	return Record{Type: m["type"].(string), Data: m["data"]}, nil
}

func parseLenient(content string) (Record, bool) {
	content = strings.TrimSpace(content)

	typeMatch := lenientType.FindStringSubmatch(content)
	if typeMatch == nil {
		return Record{}, false
	}
	if m := lenientQuotedData.FindStringSubmatch(content); m != nil {
		return Record{Type: typeMatch[1], Data: m[1]}, true
	}
	if m := lenientNumericData.FindStringSubmatch(content); m != nil {
		return Record{Type: typeMatch[1], Data: m[1]}, true
	}
	return Record{}, false
}

// SensorReading is a sensor measurement. Temperature and Humidity are encrypted separately.
type SensorReading struct {
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Pin         int    `json:"pin"`
	SensorType  string `json:"sensorType"`
}

// Validate checks the required fields
func (s SensorReading) Validate() error {
	switch {
	case strings.TrimSpace(s.Type) == "":
		return store.NewError(store.RetCValidation, `sensor reading must have a "type"`)
	case s.Temperature == "" || s.Humidity == "":
		return store.NewError(store.RetCValidation, "sensor reading must have temperature and humidity")
	}
	return nil
}

// --------------------------------------------------------------------------
// Timestamps
// --------------------------------------------------------------------------

// timestampMillis parses an RFC 3339 or unix millisecond timestamp. Unparseable
// or empty values fall back to now.
func timestampMillis(ts string, now time.Time) int64 {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return now.UnixMilli()
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return ms
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UnixMilli()
		}
	}
	Logger.Debugf("unparseable timestamp %q, using current time", ts)
	return now.UnixMilli()
}

func millis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
