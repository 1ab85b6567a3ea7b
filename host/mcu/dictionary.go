package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Dictionary is the parsed MCU data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]any            `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]any `json:"enumerations,omitempty"`
}

// ParseDictionary decodes a dictionary blob. Klipper firmware sends it
// zlib-compressed; plain JSON is accepted too.
func ParseDictionary(data []byte) (*Dictionary, error) {
	if isZlib(data) {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open compressed dictionary: %w", err)
		}
		defer r.Close()

		data, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
	}

	dict := &Dictionary{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber() // keep CLOCK_FREQ and friends as written
	if err := dec.Decode(dict); err != nil {
		return nil, fmt.Errorf("unmarshal dictionary: %w", err)
	}
	return dict, nil
}

// isZlib checks for a zlib header: deflate method and a valid header checksum.
func isZlib(data []byte) bool {
	return len(data) >= 2 && data[0]&0x0F == 8 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

// CommandID returns the ID of a command by name ("i2c_write") or by its
// full format ("i2c_write oid=%c data=%*s").
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	return lookup(d.Commands, name)
}

// ResponseID returns the ID of a response by name or full format.
func (d *Dictionary) ResponseID(name string) (uint16, bool) {
	return lookup(d.Responses, name)
}

func lookup(formats map[string]int, name string) (uint16, bool) {
	if id, ok := formats[name]; ok {
		return uint16(id), true
	}
	for format, id := range formats {
		if msgName, _, _ := strings.Cut(format, " "); msgName == name {
			return uint16(id), true
		}
	}
	return 0, false
}

// ConfigString returns a dictionary constant formatted as text.
func (d *Dictionary) ConfigString(key string) (string, bool) {
	v, ok := d.Config[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}
