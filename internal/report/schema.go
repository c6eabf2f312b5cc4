package report

import (
	"encoding/json"
	"fmt"

	"tools.zach/dev/freezewatch/internal/migrate"
)

func init() {
	migrate.Report.Register(migrate.Migration{
		Version:     2,
		Description: "severity reason string to object",
		Upgrade:     reasonToObject,
	})
}

// ///////////////////////////////////////////////
// Decoding
// ///////////////////////////////////////////////

// PeekVersion returns the schema version recorded in a report file. Files
// written before versioning count as version 1.
func PeekVersion(data []byte) (int, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("reading report version: %w", err)
	}
	if head.Version == 0 {
		return 1, nil
	}
	return head.Version, nil
}

// Decode parses a spooled report, upgrading older schema versions.
func Decode(data []byte) (*Event, error) {
	version, err := PeekVersion(data)
	if err != nil {
		return nil, err
	}
	if migrate.Report.NeedsUpgrade(version) {
		res, err := migrate.Report.Upgrade(data, version)
		if err != nil {
			return nil, err
		}
		data, version = res.Data, res.To
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	e.Version = version
	return &e, nil
}

// reasonToObject rewrites "severityReason": "x" as {"type": "x"}.
func reasonToObject(data []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if raw, ok := doc["severityReason"]; ok {
		var reason string
		if err := json.Unmarshal(raw, &reason); err == nil {
			obj, err := json.Marshal(SeverityReason{Type: reason})
			if err != nil {
				return nil, err
			}
			doc["severityReason"] = obj
		}
	}
	doc["version"] = json.RawMessage("2")
	return json.Marshal(doc)
}
