package vault

import (
	"encoding/json"

	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// Source is written to every envelope and to the source attribute
const Source = "ghostmesh-server"

// SensorDataType is the record type whose temperature and humidity are encrypted
const SensorDataType = "sensor_data"

// Envelope is the stored payload of an entity
type Envelope struct {
	Encrypted bool         `json:"encrypted"`
	Data      EnvelopeData `json:"data"`
}

// EnvelopeData holds the plaintext metadata and the encrypted fields
type EnvelopeData struct {
	Type      string  `json:"type"`
	Content   string  `json:"content,omitempty"` // cipher of Record.Data
	From      string  `json:"from,omitempty"`
	Timestamp string  `json:"timestamp"`
	UUID      *string `json:"uuid"`
	Source    string  `json:"source"`

	// sensor readings
	Temperature string `json:"temperature,omitempty"` // cipher
	Humidity    string `json:"humidity,omitempty"`    // cipher
	Pin         *int   `json:"pin,omitempty"`
	SensorType  string `json:"sensorType,omitempty"`
	Encrypted   bool   `json:"encrypted,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// seal serializes env and checks once more that none of the encrypted fields
// equals its plaintext in the final bytes. plain maps field name to plaintext.
func seal(env Envelope, plain map[string]string) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, store.Errorf(store.RetCEncryption, "serializing envelope: %s", err)
	}

	var check Envelope
	if err := json.Unmarshal(payload, &check); err != nil {
		return nil, store.Errorf(store.RetCEncryption, "verifying envelope: %s", err)
	}
	stored := map[string]string{
		"content":     check.Data.Content,
		"temperature": check.Data.Temperature,
		"humidity":    check.Data.Humidity,
	}
	for field, p := range plain {
		if err := crypt.Verify(p, stored[field]); err != nil {
			return nil, store.Errorf(store.RetCEncryption, "final payload verification failed for %s: %s", field, err)
		}
	}
	return payload, nil
}

// --------------------------------------------------------------------------
// Read side
// --------------------------------------------------------------------------

// ReadEntity is a decoded entity. Data is the envelope content with the encrypted
// fields replaced by their plaintext.
type ReadEntity struct {
	EntityKey       string            `json:"entityKey"`
	Data            map[string]any    `json:"data"`
	Encrypted       bool              `json:"encrypted"`
	EncryptedField  *string           `json:"encryptedField"`
	DecryptedField  *string           `json:"decryptedField"`
	DecryptionError string            `json:"decryptionError,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	ExpiresAt       uint64            `json:"expiresAt,omitempty"`
}

// Type returns the record type of the entity
func (e ReadEntity) Type() string {
	if t, ok := e.Data["type"].(string); ok {
		return t
	}
	return e.Attributes["type"]
}

// decode turns a stored entity into a ReadEntity. Failures only affect this entity.
func decode(e store.Entity, c *crypt.Cipher) ReadEntity {
	out := ReadEntity{
		EntityKey:  e.Key,
		Attributes: e.AttributeMap(),
		ExpiresAt:  e.ExpiresAt,
	}

	var raw map[string]any
	if err := json.Unmarshal(e.Payload, &raw); err != nil {
		out.Data = map[string]any{"raw": string(e.Payload)}
		out.DecryptionError = "payload is not a JSON object: " + err.Error()
		return out
	}

	encrypted, _ := raw["encrypted"].(bool)
	out.Encrypted = encrypted
	inner, ok := raw["data"].(map[string]any)
	if !ok {
		out.Data = raw
		return out
	}
	out.Data = inner

	if !encrypted {
		if content, ok := inner["content"].(string); ok {
			out.DecryptedField = &content
		}
		return out
	}

	data := make(map[string]any, len(inner))
	for k, v := range inner {
		data[k] = v
	}

	temperature, hasT := inner["temperature"].(string)
	humidity, hasH := inner["humidity"].(string)
	content, hasContent := inner["content"].(string)

	switch {
	case inner["type"] == SensorDataType && hasT && hasH:
		t, err := c.Decrypt(temperature)
		if err == nil {
			var h string
			if h, err = c.Decrypt(humidity); err == nil {
				data["temperature"] = t
				data["humidity"] = h
			}
		}
		if err != nil {
			return failed(out, data, err)
		}
	case hasContent:
		out.EncryptedField = &content
		plain, err := c.Decrypt(content)
		if err != nil {
			return failed(out, data, err)
		}
		out.DecryptedField = &plain
		data["content"] = plain
	}

	out.Data = data
	return out
}

func failed(out ReadEntity, data map[string]any, err error) ReadEntity {
	Logger.Warningf("failed to decrypt entity %s: %v", out.EntityKey, err)
	out.DecryptionError = err.Error()
	data["decryptionError"] = err.Error()
	out.Data = data
	return out
}
